package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/middleware"
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

	pipeline, err := app.Build(ctx, cfg, logger, app.BuildOptions{})
	if err != nil {
		logger.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer pipeline.Close()

	api := &API{
		converter:     pipeline.Orchestrator,
		maxUploadSize: cfg.Server.MaxUploadSize,
		logger:        logger,
	}
	if pipeline.Cache != nil {
		api.jobs = pipeline.Cache
	}
	if pipeline.Repository != nil {
		api.history = pipeline.Repository
	}

	var depths monitoring.QueueProvider
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		api.publisher = q
		depths = q
	}

	monitor := monitoring.NewMonitor(depths, cfg.Staging.Root, 0, logger)
	go monitor.Run(ctx)
	api.monitor = monitor

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("auth.jwtSecret is empty; API is unauthenticated")
	}

	limiter := middleware.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateBurst)
	go limiter.Cleanup(ctx)

	stopMetrics := app.StartMetrics(cfg.Metrics, logger)
	defer stopMetrics()

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, auth, limiter, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}
