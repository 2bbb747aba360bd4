package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/staging"
)

// Health levels reported by Monitor.Status
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Alert thresholds
const (
	maxQueueDepth      = 1000
	maxDeadLetterDepth = 100
	maxStagingDirs     = 10
)

// Snapshot holds the most recent observations
type Snapshot struct {
	QueueDepth         int       `json:"queue_depth"`
	DeadLetterDepth    int       `json:"dead_letter_depth"`
	StagingDirectories int       `json:"staging_directories"`
	StagingBytes       int64     `json:"staging_bytes"`
	LastUpdated        time.Time `json:"last_updated"`
}

// QueueProvider reports queue depths
type QueueProvider interface {
	Depth() (int, error)
	DeadLetterDepth() (int, error)
}

// Monitor periodically samples queue and staging usage, exports it as
// metrics and derives a health status from it
type Monitor struct {
	snapshot    Snapshot
	mu          sync.RWMutex
	queue       QueueProvider // optional
	stagingRoot string
	interval    time.Duration
	logger      *logging.Logger
}

// NewMonitor creates a monitor. queue may be nil when no broker is used.
func NewMonitor(queue QueueProvider, stagingRoot string, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		queue:       queue,
		stagingRoot: stagingRoot,
		interval:    interval,
		logger:      logger,
	}
}

// Run collects immediately and then on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if err := m.collect(); err != nil {
		m.logger.WarnWithErr("Failed to update monitoring snapshot", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.collect(); err != nil {
				m.logger.WarnWithErr("Failed to update monitoring snapshot", err)
			}
		}
	}
}

// collect takes one sample. Values that could not be read keep their
// previous reading.
func (m *Monitor) collect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.queue != nil {
		depth, err := m.queue.Depth()
		if err != nil {
			record(fmt.Errorf("failed to get queue depth: %w", err))
		} else {
			m.snapshot.QueueDepth = depth
			metrics.SetQueueDepth(queue.ConversionQueueName, depth)
		}

		dlqDepth, err := m.queue.DeadLetterDepth()
		if err != nil {
			record(fmt.Errorf("failed to get DLQ depth: %w", err))
		} else {
			m.snapshot.DeadLetterDepth = dlqDepth
			metrics.SetQueueDepth(queue.DeadLetterQueueName, dlqDepth)
		}
	}

	dirs, err := staging.ListDirectories(m.stagingRoot)
	if err != nil {
		record(fmt.Errorf("failed to list staging directories: %w", err))
	} else {
		var size int64
		for _, dir := range dirs {
			size += dir.Size
		}
		m.snapshot.StagingDirectories = len(dirs)
		m.snapshot.StagingBytes = size
		metrics.SetStagingUsage(len(dirs), size)
	}

	m.snapshot.LastUpdated = time.Now()
	return firstErr
}

// Snapshot returns a copy of the latest observations
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Status returns overall system health
func (m *Monitor) Status() string {
	s := m.Snapshot()

	switch {
	case s.DeadLetterDepth > maxDeadLetterDepth:
		return StatusCritical
	case s.QueueDepth > maxQueueDepth, s.DeadLetterDepth > 0, s.StagingDirectories > maxStagingDirs:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Alerts returns human readable descriptions of every tripped threshold
func (m *Monitor) Alerts() []string {
	s := m.Snapshot()
	var alerts []string

	if s.DeadLetterDepth > 0 {
		alerts = append(alerts, fmt.Sprintf("%d failed conversion requests in the dead letter queue", s.DeadLetterDepth))
	}
	if s.QueueDepth > maxQueueDepth {
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d requests pending", s.QueueDepth))
	}
	if s.StagingDirectories > maxStagingDirs {
		alerts = append(alerts, fmt.Sprintf("%d job directories in staging; stale ones can be removed with `hlsbatch staging clean`", s.StagingDirectories))
	}

	return alerts
}
