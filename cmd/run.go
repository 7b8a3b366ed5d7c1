package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/snowroute/internal/monitoring"
	"github.com/sells-group/snowroute/internal/pipeline"
	"github.com/sells-group/snowroute/internal/report"
	"github.com/sells-group/snowroute/internal/resilience"
	"github.com/sells-group/snowroute/internal/scene"
)

var (
	runRoutes string
	runFormat string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify snow cover and rank the configured routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runRoutes != "" {
			cfg.Routes.File = runRoutes
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		catalog, err := scene.NewCatalog(cfg.Catalog.Path)
		if err != nil {
			return eris.Wrap(err, "open scene catalog")
		}
		defer catalog.Close() //nolint:errcheck
		if err := catalog.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate scene catalog")
		}

		fragments, err := loadFragments(cfg.Routes.File, cfg.Routes.NameField)
		if err != nil {
			return err
		}
		area, err := pipeline.StudyArea(cfg.Study)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		if path := cfg.Metrics.Textfile; path != "" {
			defer func() {
				if werr := monitoring.WriteTextfile(path, reg); werr != nil {
					zap.L().Warn("metrics textfile not written", zap.Error(werr))
				}
			}()
		}

		p, err := pipeline.New(cfg, catalog, pipeline.WithMetrics(monitoring.NewMetricsFor(reg)))
		if err != nil {
			return err
		}
		res, err := p.Run(ctx, area, fragments)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}
		run := res.Record(cfg)

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			retry := resilience.DefaultRetryConfig()
			retry.OnRetry = resilience.RetryLogger("save run")
			if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
				return st.SaveRun(ctx, run)
			}); err != nil {
				return eris.Wrap(err, "save run")
			}
			zap.L().Info("run saved", zap.String("run_id", run.ID), zap.String("driver", cfg.Store.Driver))
		}

		return report.Write(cmd.OutOrStdout(), runFormat, run)
	},
}

func init() {
	runCmd.Flags().StringVar(&runRoutes, "routes", "", "route file, .shp or .geojson (default from config)")
	runCmd.Flags().StringVar(&runFormat, "format", report.FormatTable, "output format: table, csv, geojson, yaml, xlsx")
	rootCmd.AddCommand(runCmd)
}
