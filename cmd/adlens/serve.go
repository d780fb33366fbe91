package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var (
	servePort     int
	serveNoWorker bool
	serveMigrate  bool
	serveWorkers  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with an embedded worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveMigrate {
			if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
				return eris.Wrap(err, "run migrations")
			}
			zap.L().Info("database migrations applied")
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{
			Addr:         addr,
			Handler:      a.router(),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Workers stop on the signal, then drain before the process exits.
		poolDone := make(chan struct{})
		if serveNoWorker {
			close(poolDone)
		} else {
			pool := a.workerPool(serveWorkers)
			go func() {
				defer close(poolDone)
				if err := pool.Run(ctx); err != nil {
					zap.L().Error("worker pool stopped", zap.Error(err))
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		var serveErr error
		select {
		case err := <-errCh:
			if err != nil {
				serveErr = eris.Wrap(err, "server error")
			}
			stop()
		case <-ctx.Done():
			zap.L().Info("shutdown signal received, draining connections...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = eris.Wrap(err, "server shutdown")
		}

		select {
		case <-poolDone:
		case <-shutdownCtx.Done():
			zap.L().Warn("worker pool did not stop before the shutdown timeout")
		}

		if serveErr == nil {
			zap.L().Info("server stopped gracefully")
		}
		return serveErr
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve the API only; run workers with the worker command")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending migrations before starting")
	serveCmd.Flags().IntVar(&serveWorkers, "concurrency", 0, "embedded worker count (default from config)")
	rootCmd.AddCommand(serveCmd)
}
