package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/snowroute/internal/config"
	"github.com/sells-group/snowroute/internal/pipeline"
	"github.com/sells-group/snowroute/internal/scene"
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "Manage the scene catalog",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("scenes")
	},
}

func openCatalog(cmd *cobra.Command) (*scene.Catalog, error) {
	catalog, err := scene.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open scene catalog")
	}
	if err := catalog.Migrate(cmd.Context()); err != nil {
		_ = catalog.Close()
		return nil, eris.Wrap(err, "migrate scene catalog")
	}
	return catalog, nil
}

var scenesImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Add msgpack scene files to the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer catalog.Close() //nolint:errcheck

		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return eris.Wrapf(err, "open scene file %s", path)
			}
			s, err := scene.ReadSceneFile(f)
			_ = f.Close()
			if err != nil {
				return eris.Wrapf(err, "read scene file %s", path)
			}
			if err := catalog.Put(cmd.Context(), s); err != nil {
				return err
			}
			zap.L().Info("scene imported",
				zap.String("scene", s.ID),
				zap.Time("acquired", s.Acquired),
				zap.Float64("cloud_pct", s.CloudPct),
			)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d scene(s)\n", len(args))
		return nil
	},
}

var scenesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued scenes",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer catalog.Close() //nolint:errcheck

		summaries, err := catalog.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACQUIRED\tCLOUD%\tSIZE\tPIXEL\tBANDS")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%.1f\t%dx%d\t%g\t%s\n",
				s.ID,
				s.Acquired.Format(config.DateLayout),
				s.CloudPct,
				s.Grid.Cols, s.Grid.Rows,
				s.Grid.PixelSize,
				strings.Join(s.Bands, ","),
			)
		}
		return w.Flush()
	},
}

var scenesMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "List the scenes the configured filter selects for the study area",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := cfg.Scenes.DateRange()
		if err != nil {
			return err
		}
		area, err := pipeline.StudyArea(cfg.Study)
		if err != nil {
			return err
		}

		catalog, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer catalog.Close() //nolint:errcheck

		scenes, err := catalog.Scenes(cmd.Context(), scene.Query{
			Bounds:      area.Bounds(),
			Start:       start,
			End:         end,
			MaxCloudPct: cfg.Scenes.MaxCloudPct,
		})
		if err != nil {
			return err
		}
		for _, s := range scenes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%.1f\n", s.ID, s.Acquired.Format(config.DateLayout), s.CloudPct)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d scene(s) match\n", len(scenes))
		return nil
	},
}

func init() {
	scenesCmd.AddCommand(scenesImportCmd, scenesListCmd, scenesMatchCmd)
	rootCmd.AddCommand(scenesCmd)
}
