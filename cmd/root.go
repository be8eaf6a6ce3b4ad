package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Company enrichment orchestration and registry scraping",
	Long:  "Runs checkpointed enrichment jobs over AI-grounded search and a multi-source registry scrape chain, and serves the scrape and job APIs.",
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
