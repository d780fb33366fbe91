// Package main is the entrypoint for the AdLens API server and worker.
package main

import (
	"os"

	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "adlens",
	Short: "Ad performance analysis service",
	Long:  "Accepts keyword performance uploads, computes derived metrics and aggregates, and enriches the results with insights and optimization tasks.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
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
