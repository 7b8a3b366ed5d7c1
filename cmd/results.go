package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/snowroute/internal/report"
	"github.com/sells-group/snowroute/internal/store"
)

var (
	resultsID     string
	resultsFormat string
	runsSince     time.Duration
	runsLimit     int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the ranked routes of a stored run (latest by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("results"); err != nil {
			return err
		}
		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var run *store.Run
		if resultsID != "" {
			run, err = st.GetRun(ctx, resultsID)
		} else {
			run, err = st.LatestRun(ctx)
		}
		if err != nil {
			return err
		}
		if run == nil {
			if resultsID != "" {
				return eris.Errorf("run %s not found", resultsID)
			}
			return eris.New("no runs stored yet")
		}
		return report.Write(cmd.OutOrStdout(), resultsFormat, run)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("results"); err != nil {
			return err
		}
		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.RunFilter{Limit: runsLimit}
		if runsSince > 0 {
			filter.Since = time.Now().Add(-runsSince)
		}
		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSCENES\tROUTES\tMIN INDEX\tSAFEST")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.3f\t%v\n",
				r.ID,
				r.CreatedAt.Format(time.RFC3339),
				r.Scenes,
				len(r.Routes),
				r.MinIndex,
				r.Safest(),
			)
		}
		return w.Flush()
	},
}

func init() {
	resultsCmd.Flags().StringVar(&resultsID, "id", "", "run ID (default: latest run)")
	resultsCmd.Flags().StringVar(&resultsFormat, "format", report.FormatTable, "output format: table, csv, geojson, yaml, xlsx")
	runsCmd.Flags().DurationVar(&runsSince, "since", 0, "only runs created within this window (e.g. 72h)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(resultsCmd, runsCmd)
}
