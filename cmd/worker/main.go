package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/queue"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Build(ctx, cfg, logger, app.BuildOptions{WithSource: true})
	if err != nil {
		logger.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer pipeline.Close()

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	stopMetrics := app.StartMetrics(cfg.Metrics, logger)
	defer stopMetrics()

	go monitoring.NewMonitor(q, cfg.Staging.Root, 0, logger).Run(ctx)

	w := newWorker(pipeline.Orchestrator, lockerFor(pipeline), logger)

	logger.Info("Worker started, waiting for conversion requests...")
	if err := q.Consume(ctx, w.handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorWithErr("Failed to consume requests", err)
	}

	logger.Info("Worker stopped")
}

// lockerFor returns the redis cache as a Locker, or nil without redis
func lockerFor(a *app.App) Locker {
	if a.Cache == nil {
		return nil
	}
	return a.Cache
}
