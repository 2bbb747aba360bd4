package main

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// conversionLockTTL outlives the longest expected conversion
const conversionLockTTL = 3 * time.Hour

// KeyProcessor converts one source object
type KeyProcessor interface {
	ProcessKey(ctx context.Context, key string) (*models.ConversionResult, error)
}

// Locker provides cross-process mutual exclusion
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

type worker struct {
	processor KeyProcessor
	locker    Locker
	logger    *logging.Logger
}

func newWorker(processor KeyProcessor, locker Locker, logger *logging.Logger) *worker {
	return &worker{processor: processor, locker: locker, logger: logger}
}

// handle converts the requested key. Workers sharing a redis serialize on
// the key's base name so two copies of one video never publish at once.
func (w *worker) handle(ctx context.Context, req *queue.ConversionRequest) error {
	l := w.logger.WithRequestID(req.RequestID).WithSourceKey(req.Key)

	if w.locker != nil {
		resource := "convert:" + models.BaseName(req.Key)
		acquired, err := w.locker.AcquireLock(ctx, resource, conversionLockTTL)
		if err != nil {
			return fmt.Errorf("acquire lock for %s: %w", req.Key, err)
		}
		if !acquired {
			return fmt.Errorf("conversion of %s already in progress", req.Key)
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.WithoutCancel(ctx), resource); err != nil {
				l.WarnWithErr("Failed to release conversion lock", err)
			}
		}()
	}

	result, err := w.processor.ProcessKey(ctx, req.Key)
	if err != nil {
		return err
	}

	if result.Skipped {
		l.Info("Output already published, nothing to do")
		return nil
	}
	l.WithField("master_url", result.MasterURL).Info("Conversion request completed")
	return nil
}

var _ KeyProcessor = (*pipeline.Orchestrator)(nil)
