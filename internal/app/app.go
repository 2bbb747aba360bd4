// Package app wires configuration into a ready-to-run conversion pipeline
// shared by the batch CLI, the API server and the queue worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/cache"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/staging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/webhook"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// App holds the pipeline and the optional services attached to it
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Area         *staging.Area
	Cache        *cache.Cache         // nil unless redis.enabled
	Repository   *database.Repository // nil unless database.enabled

	closers []func() error
	logger  *logging.Logger
}

// BuildOptions selects which parts of the pipeline a command needs
type BuildOptions struct {
	// WithSource connects the source bucket. The upload API has no use for it.
	WithSource bool
}

// Build connects every configured backend and assembles the orchestrator.
// On error anything already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts BuildOptions) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := validate(cfg, opts); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// build fills in a, registering a closer for every backend it opens
func (a *App) build(ctx context.Context, opts BuildOptions) error {
	cfg, logger := a.Config, a.logger

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	a.addCloser(closer)

	var source pipeline.Source
	if opts.WithSource {
		store, err := storage.New(cfg.Source, storage.Options{}, logger.WithField("store", "source"))
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		source = store
	}

	dest, err := newDestination(ctx, cfg, logger.WithField("store", "destination"))
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	encoder := transcoder.NewEncoderFromConfig(cfg.Encoder, logger)
	a.Area = staging.NewArea(cfg.Staging.Root, models.Layout(cfg.Pipeline.Layout), logger)

	var options []pipeline.Option
	if cfg.Encoder.ProbeSource {
		options = append(options, pipeline.WithProber(encoder.FFmpeg()))
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis)
		if err != nil {
			return err
		}
		a.Cache = c
		a.addCloser(c)
		options = append(options, pipeline.WithStatusRecorder(c))
	}

	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		repo := database.NewRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Repository = repo
		options = append(options, pipeline.WithResultRecorder(repo))
	}

	if notifier := webhook.NewNotifier(cfg.Webhook, logger); notifier != nil {
		options = append(options, pipeline.WithNotifier(notifier))
	}

	a.Orchestrator = pipeline.New(source, dest, encoder, a.Area, pipeline.OptionsFromConfig(cfg), logger, options...)
	return nil
}

func validate(cfg *config.Config, opts BuildOptions) error {
	errs := []error{cfg.ValidateDestination(), cfg.ValidatePipeline()}
	if opts.WithSource {
		errs = append(errs, cfg.ValidateSource())
	}
	return errors.Join(errs...)
}

func newDestination(ctx context.Context, cfg *config.Config, logger *logging.Logger) (pipeline.Destination, error) {
	if cfg.Destination.Kind == config.DestinationLocal {
		return storage.NewLocal(cfg.Destination.LocalDir, cfg.Destination.PublicBaseURL, logger)
	}

	store, err := storage.New(cfg.Destination.Storage, storage.Options{
		PublicBaseURL: cfg.Destination.PublicBaseURL,
		PublicRead:    cfg.Destination.PublicRead,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *App) addCloser(c io.Closer) {
	a.closers = append(a.closers, c.Close)
}

// Close releases every backend in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WarnWithErr("Failed to close resource", err)
		}
	}
	a.closers = nil
}
