package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
)

const defaultLockName = ".hlsbatch.lock"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *logging.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}

		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := app.NewLogger(cfg.Logging)
		if err != nil {
			c.configErr = fmt.Errorf("initialize logger: %w", err)
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// withPipeline builds the pipeline, holds the staging lock for the duration
// of fn and releases everything afterwards
func (c *commandContext) withPipeline(ctx context.Context, opts app.BuildOptions, fn func(*app.App) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	unlock, err := lockStaging(cfg.Staging)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := app.Build(ctx, cfg, c.logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	stopMetrics := app.StartMetrics(cfg.Metrics, c.logger)
	defer stopMetrics()

	return fn(a)
}

// lockStaging takes the exclusive lock that keeps one batch process per
// staging root
func lockStaging(cfg config.StagingConfig) (func(), error) {
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}

	lockPath := cfg.LockFile
	if lockPath == "" {
		lockPath = filepath.Join(cfg.Root, defaultLockName)
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another batch process holds %s", lockPath)
	}

	return func() { _ = lock.Unlock() }, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
