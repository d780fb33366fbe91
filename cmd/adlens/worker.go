package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued jobs without serving HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.workerPool(workerConcurrency).Run(ctx); err != nil {
			return err
		}
		zap.L().Info("worker stopped gracefully")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "worker count (default from config)")
	rootCmd.AddCommand(workerCmd)
}
