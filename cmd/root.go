package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/config"
	"github.com/sells-group/deal-pipeline/internal/source/sites"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "deals",
	Short: "UK business-for-sale deal pipeline",
	Long:  "Ingests broker listings into a canonical deal catalog, archives listing PDFs, reconciles the analyst workspace and produces weekly pipeline snapshots and reports.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		// Every built-in source must have a complete sector mapping table.
		if err := taxonomy.Validate(sites.Names...); err != nil {
			return fmt.Errorf("taxonomy: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
