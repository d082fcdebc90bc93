package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "f1data",
	Short: "Multi-source Formula 1 data reconciliation",
	Long:  "Normalizes raw F1 observations from heterogeneous sources, resolves entities, merges by source priority, validates, and persists one canonical dataset.",
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
