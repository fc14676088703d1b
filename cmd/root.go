package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ranktrack",
	Short: "Keyword rank history aggregation and trend classification",
	Long:  "Ingests keyword rank checks, folds them into monthly buckets, classifies trends, and serves aggregated reports with rule-based insights.",
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
