package app

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
)

// NewLogger builds the process logger from the logging section
func NewLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// StartMetrics serves /metrics in the background when enabled. The returned
// func stops the server and is safe to call when metrics are disabled.
func StartMetrics(cfg config.MetricsConfig, logger *logging.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	server := metrics.NewServer(cfg.Port, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.ErrorWithErr("Metrics server stopped", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WarnWithErr("Failed to stop metrics server", err)
		}
	}
}
