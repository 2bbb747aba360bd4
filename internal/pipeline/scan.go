package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// ScanReport summarizes one pass over the source bucket. Listed counts every
// object under the source prefix, video or not.
type ScanReport struct {
	Listed    int
	Converted []*models.ConversionResult
	Skipped   []string
	Failed    map[string]error
	Duration  time.Duration
}

// Candidates returns how many keys passed the suffix filter
func (r *ScanReport) Candidates() int {
	return len(r.Converted) + len(r.Skipped) + len(r.Failed)
}

// PlanEntry describes what a scan would do with one source
type PlanEntry struct {
	Key       string
	BaseName  string
	Converted bool
}

// Scan lists the source once and processes every matching video strictly one
// at a time. A failed job is logged and counted and the scan moves on; only
// a listing failure or cancellation ends the run early.
func (o *Orchestrator) Scan(ctx context.Context) (*ScanReport, error) {
	start := time.Now()
	report := &ScanReport{Failed: make(map[string]error)}

	keys, listed, err := o.candidates(ctx)
	if err != nil {
		metrics.RecordScan("error")
		return nil, err
	}
	report.Listed = listed

	o.logger.WithField("candidates", len(keys)).Info("Scan started")

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			metrics.RecordScan("canceled")
			return report, err
		}

		result, err := o.ProcessKey(ctx, key)
		switch {
		case err != nil:
			report.Failed[key] = err
			o.logger.WithSourceKey(key).ErrorWithErr("Conversion failed", err)
		case result.Skipped:
			report.Skipped = append(report.Skipped, key)
			o.logger.WithSourceKey(key).Info("Already converted, skipping")
		default:
			report.Converted = append(report.Converted, result)
			o.logger.WithSourceKey(key).WithField("master_url", result.MasterURL).Info("Conversion completed")
		}
	}

	report.Duration = time.Since(start)
	status := "success"
	if len(report.Failed) > 0 {
		status = "partial"
	}
	metrics.RecordScan(status)

	o.logger.WithFields(map[string]interface{}{
		"converted": len(report.Converted),
		"skipped":   len(report.Skipped),
		"failed":    len(report.Failed),
		"duration":  report.Duration.String(),
	}).Info("Scan finished")

	return report, nil
}

// Plan reports what Scan would do without converting anything
func (o *Orchestrator) Plan(ctx context.Context) ([]PlanEntry, error) {
	keys, _, err := o.candidates(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]PlanEntry, 0, len(keys))
	for _, key := range keys {
		source := models.NewSourceVideo(key)
		converted, err := o.AlreadyConverted(ctx, source.BaseName)
		if err != nil {
			return nil, err
		}
		entries = append(entries, PlanEntry{Key: key, BaseName: source.BaseName, Converted: converted})
	}
	return entries, nil
}

// candidates lists the source and keeps keys with a video suffix. It also
// returns how many keys the listing held before filtering.
func (o *Orchestrator) candidates(ctx context.Context) ([]string, int, error) {
	keys, err := o.source.List(ctx, o.opts.SourcePrefix)
	if err != nil {
		return nil, 0, fmt.Errorf("list sources: %w", err)
	}

	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if models.HasSuffix(key, o.opts.SourceSuffixes) && models.BaseName(key) != "" {
			matched = append(matched, key)
		}
	}
	return matched, len(keys), nil
}
