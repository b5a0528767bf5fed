package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/config"
	"github.com/spherical-ai/finsight/internal/observability"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued documents until interrupted",
	Long: `Start the worker pool. Each consumer takes one task at a time from the
queue and acknowledges it after the run is recorded. SIGINT or SIGTERM stops
taking new work and waits for in-flight runs to finish.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "number of consumers (default from config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if workerConcurrency > 0 {
		cfg.Worker.Concurrency = workerConcurrency
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Queue.Driver != "redis" {
		logger.Warn().Msg("Queue driver is memory: this worker only sees tasks enqueued in its own process")
	}

	if err := app.Pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := app.Pool.Stats()
	logger.Info().
		Int64("succeeded", stats.Succeeded).
		Int64("failed", stats.Failed).
		Int64("breached", stats.Breached).
		Msg("Worker stopped")
	return nil
}
