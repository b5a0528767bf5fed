// Package main provides the finsight API server entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/finsight/cmd/finsight-api/handlers"
	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/config"
	"github.com/spherical-ai/finsight/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "config file (YAML)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "finsight-api: %v\n", err)
		os.Exit(1)
	}
}

// run serves the API until ctx ends. With the memory queue the worker pool
// runs in this process, since no other process can see the queue.
func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	var runs handlers.RunLookup
	if app.Runs != nil {
		runs = app.Runs
	}
	tasks := handlers.NewTaskHandler(logger.WithOperation("api"), app.Queue, app.Status, app.Events, runs)

	srv := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: NewRouter(logger, tasks, app.Ready, RouterConfig{
			RequestTimeout: cfg.Server.ReadTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("queue", cfg.Queue.Driver).
			Str("database", cfg.Database.Driver).
			Str("artifacts", cfg.Artifacts.Driver).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	if cfg.Queue.Driver != "redis" {
		logger.Warn().Msg("Queue driver is memory: tasks are processed by this server only")
		g.Go(func() error {
			return app.Pool.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
