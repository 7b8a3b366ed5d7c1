package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/snowroute/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "snowroute",
	Short: "Snow-cover danger index for mountaineering routes",
	Long:  "Builds a cloud-free snow-cover composite from catalogued scenes, classifies snow extent, and ranks routes by the snow they cross.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
