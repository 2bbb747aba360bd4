// Package pipeline drives source videos through download, encode, manifest,
// upload and cleanup, one job at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/staging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// rollbackTimeout bounds the cleanup of a partially uploaded job
const rollbackTimeout = 2 * time.Minute

// Source is where source videos are listed and fetched from
type Source interface {
	List(ctx context.Context, prefix string) ([]string, error)
	DownloadFile(ctx context.Context, key, filePath string) (int64, error)
}

// Destination is where HLS artifacts are published
type Destination interface {
	Exists(ctx context.Context, key string) (bool, error)
	PutFile(ctx context.Context, key, filePath string) error
	DeleteAll(ctx context.Context, keys []string) error
	URL(key string) string
}

// Encoder produces the rendition ladder for one staged source
type Encoder interface {
	EncodeLadder(ctx context.Context, sourcePath string, out transcoder.Output, ladder []models.RenditionSpec) ([]*models.RenditionArtifact, error)
}

// Prober checks a downloaded source before it is encoded
type Prober interface {
	ProbeVideo(ctx context.Context, inputPath string) (*transcoder.VideoMetadata, error)
}

// StatusRecorder receives every job state transition
type StatusRecorder interface {
	SaveJob(ctx context.Context, job *models.ConversionJob) error
}

// ResultRecorder persists finished conversions
type ResultRecorder interface {
	RecordConversion(ctx context.Context, result *models.ConversionResult) error
}

// Notifier announces finished conversions
type Notifier interface {
	NotifyConversion(ctx context.Context, result *models.ConversionResult) error
}

// Options controls which sources are picked up and where output goes.
// Artifact names follow the layout of the staging area.
type Options struct {
	SourcePrefix    string
	SourceSuffixes  []string
	OutputPrefix    string
	Ladder          []models.RenditionSpec
	UploadKeyScheme string
}

// OptionsFromConfig derives orchestrator options from loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourcePrefix:    cfg.Source.Prefix,
		SourceSuffixes:  cfg.Pipeline.SourceSuffixes,
		OutputPrefix:    cfg.Pipeline.OutputPrefix,
		Ladder:          cfg.Pipeline.Ladder,
		UploadKeyScheme: cfg.Pipeline.UploadKeyScheme,
	}
}

// Option configures optional collaborators
type Option func(*Orchestrator)

// WithProber validates sources with ffprobe before encoding
func WithProber(p Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithStatusRecorder publishes job state transitions
func WithStatusRecorder(r StatusRecorder) Option {
	return func(o *Orchestrator) { o.status = r }
}

// WithResultRecorder records finished conversions
func WithResultRecorder(r ResultRecorder) Option {
	return func(o *Orchestrator) { o.results = r }
}

// WithNotifier announces finished conversions
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// Orchestrator runs conversion jobs
type Orchestrator struct {
	source   Source
	dest     Destination
	encoder  Encoder
	area     *staging.Area
	opts     Options
	prober   Prober
	status   StatusRecorder
	results  ResultRecorder
	notifier Notifier
	logger   *logging.Logger
}

// New creates an Orchestrator
func New(source Source, dest Destination, encoder Encoder, area *staging.Area, opts Options, logger *logging.Logger, options ...Option) *Orchestrator {
	if len(opts.Ladder) == 0 {
		opts.Ladder = models.DefaultLadder()
	}
	if len(opts.SourceSuffixes) == 0 {
		opts.SourceSuffixes = []string{".mp4"}
	}
	if opts.UploadKeyScheme == "" {
		opts.UploadKeyScheme = config.KeySchemeUUID
	}
	if opts.OutputPrefix != "" && !strings.HasSuffix(opts.OutputPrefix, "/") {
		opts.OutputPrefix += "/"
	}
	if logger == nil {
		logger = logging.Nop()
	}

	o := &Orchestrator{
		source:  source,
		dest:    dest,
		encoder: encoder,
		area:    area,
		opts:    opts,
		logger:  logger,
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// AlreadyConverted reports whether output for baseName is already published.
// Any expected sub-playlist being present counts, since a failed job never
// leaves one behind.
func (o *Orchestrator) AlreadyConverted(ctx context.Context, baseName string) (bool, error) {
	prefix := o.batchPrefix(baseName)
	layout := o.area.Layout()
	for _, spec := range o.opts.Ladder {
		key := prefix + layout.PlaylistName(baseName, spec)
		exists, err := o.dest.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// ProcessKey converts one source object unless its output already exists
func (o *Orchestrator) ProcessKey(ctx context.Context, key string) (*models.ConversionResult, error) {
	source := models.NewSourceVideo(key)
	if source.BaseName == "" {
		return nil, fmt.Errorf("cannot derive a base name from key %q", key)
	}

	job := o.newJob(uuid.New().String(), source, o.batchPrefix(source.BaseName))
	o.transition(ctx, job, models.JobStateDiscovered)

	converted, err := o.AlreadyConverted(ctx, source.BaseName)
	if err != nil {
		return nil, o.fail(ctx, job, time.Now(), err)
	}
	if converted {
		o.transition(ctx, job, models.JobStateSkipped)
		metrics.RecordConversion("skipped", 0)
		masterKey := job.Prefix + o.area.Layout().MasterName(source.BaseName)
		return &models.ConversionResult{
			JobID:       job.ID,
			SourceKey:   key,
			BaseName:    source.BaseName,
			Prefix:      job.Prefix,
			MasterKey:   masterKey,
			MasterURL:   o.dest.URL(masterKey),
			Skipped:     true,
			CompletedAt: time.Now(),
		}, nil
	}

	return o.run(ctx, job, path.Ext(key), func(ctx context.Context, dst string) error {
		_, err := o.source.DownloadFile(ctx, key, dst)
		return err
	})
}

// ProcessUpload converts a video supplied by a caller. It never skips; the
// output prefix follows the configured upload key scheme.
func (o *Orchestrator) ProcessUpload(ctx context.Context, filename string, body io.Reader) (*models.ConversionResult, error) {
	source := models.NewSourceVideo(filename)
	if source.BaseName == "" {
		return nil, fmt.Errorf("cannot derive a base name from filename %q", filename)
	}

	id := uuid.New().String()
	prefix := o.freshPrefix(id)
	if o.opts.UploadKeyScheme == config.KeySchemeBaseName {
		prefix = o.batchPrefix(source.BaseName)
	}

	job := o.newJob(id, source, prefix)
	o.transition(ctx, job, models.JobStateDiscovered)

	return o.run(ctx, job, path.Ext(filename), func(ctx context.Context, dst string) error {
		return writeFile(dst, body)
	})
}

type fetchFunc func(ctx context.Context, dst string) error

// run owns one job from staging through cleanup
func (o *Orchestrator) run(ctx context.Context, job *models.ConversionJob, ext string, fetch fetchFunc) (*models.ConversionResult, error) {
	start := time.Now()
	metrics.JobStarted()
	defer metrics.JobFinished()

	span, ctx := tracing.StartSpan(ctx, "conversion")
	tracing.SetTag(span, "job_id", job.ID)
	tracing.SetTag(span, "base_name", job.Source.BaseName)

	result, err := o.staged(ctx, job, func(dir *staging.Dir) (*models.ConversionResult, error) {
		return o.convert(ctx, job, dir, ext, fetch)
	})
	tracing.FinishSpan(span, err)
	if err != nil {
		return nil, o.fail(ctx, job, start, err)
	}

	job.MasterURL = result.MasterURL
	o.transition(ctx, job, models.JobStateDone)
	metrics.RecordConversion("success", time.Since(start).Seconds())
	o.publish(ctx, result)

	return result, nil
}

// staged runs fn inside a fresh staging directory that is removed on every
// exit path
func (o *Orchestrator) staged(ctx context.Context, job *models.ConversionJob, fn func(*staging.Dir) (*models.ConversionResult, error)) (*models.ConversionResult, error) {
	dir, err := o.area.Prepare(job.Source.BaseName)
	if err != nil {
		return nil, err
	}
	defer o.area.Teardown(dir)

	result, err := fn(dir)
	if err == nil {
		o.transition(ctx, job, models.JobStateCleaningUp)
	}
	return result, err
}

func (o *Orchestrator) convert(ctx context.Context, job *models.ConversionJob, dir *staging.Dir, ext string, fetch fetchFunc) (*models.ConversionResult, error) {
	base := job.Source.BaseName
	sourcePath := dir.SourcePath(ext)

	o.transition(ctx, job, models.JobStateDownloading)
	if err := o.stage(ctx, "download", func(ctx context.Context) error {
		return fetch(ctx, sourcePath)
	}); err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}

	if o.prober != nil {
		if err := o.stage(ctx, "inspect", func(ctx context.Context) error {
			_, err := o.prober.ProbeVideo(ctx, sourcePath)
			return err
		}); err != nil {
			return nil, fmt.Errorf("inspect source: %w", err)
		}
	}

	o.transition(ctx, job, models.JobStateEncoding)
	var artifacts []*models.RenditionArtifact
	if err := o.stage(ctx, "encode", func(ctx context.Context) error {
		var err error
		artifacts, err = o.encoder.EncodeLadder(ctx, sourcePath, dir, job.Ladder)
		return err
	}); err != nil {
		return nil, fmt.Errorf("encode ladder: %w", err)
	}

	o.transition(ctx, job, models.JobStateManifestBuilding)
	entries := transcoder.MasterEntries(artifacts)
	if len(entries) != len(job.Ladder) {
		return nil, fmt.Errorf("encoder returned %d of %d renditions", len(entries), len(job.Ladder))
	}
	if err := transcoder.WriteMasterPlaylist(dir.MasterPath(), entries); err != nil {
		return nil, err
	}

	o.transition(ctx, job, models.JobStateUploading)
	var uploaded []string
	if err := o.stage(ctx, "upload", func(ctx context.Context) error {
		var err error
		uploaded, err = o.upload(ctx, job, dir, artifacts)
		return err
	}); err != nil {
		return nil, fmt.Errorf("upload artifacts: %w", err)
	}

	masterKey := job.Prefix + filepath.Base(dir.MasterPath())
	renditions := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		renditions = append(renditions, artifact.Spec.Label)
	}

	return &models.ConversionResult{
		JobID:       job.ID,
		SourceKey:   job.Source.Key,
		BaseName:    base,
		Prefix:      job.Prefix,
		MasterKey:   masterKey,
		MasterURL:   o.dest.URL(masterKey),
		Renditions:  renditions,
		Uploaded:    len(uploaded),
		CompletedAt: time.Now(),
	}, nil
}

// upload publishes segments first, then sub-playlists, then the master, so
// a visible playlist never references a missing file. If any upload fails,
// the keys this job created are removed again. Keys that already held an
// earlier conversion are left in place, as are the segments of any
// sub-playlist that was already replaced, so earlier output stays playable.
func (o *Orchestrator) upload(ctx context.Context, job *models.ConversionJob, dir *staging.Dir, artifacts []*models.RenditionArtifact) ([]string, error) {
	// A fresh prefix cannot hold earlier output, so only shared prefixes
	// pay for an existence check per key
	shared := job.Prefix != o.freshPrefix(job.ID)

	var (
		uploaded []string
		created  []string
		keep     = make(map[string]bool)
	)
	put := func(file string) (replaced bool, err error) {
		key := job.Prefix + filepath.Base(file)
		if shared {
			if replaced, err = o.dest.Exists(ctx, key); err != nil {
				return false, err
			}
		}
		if err := o.dest.PutFile(ctx, key, file); err != nil {
			return false, err
		}
		uploaded = append(uploaded, key)
		if !replaced {
			created = append(created, key)
		}
		return replaced, nil
	}
	abort := func(err error) ([]string, error) {
		var remove []string
		for _, key := range created {
			if !keep[key] {
				remove = append(remove, key)
			}
		}
		o.rollback(ctx, job, remove)
		return nil, err
	}

	for _, artifact := range artifacts {
		for _, segment := range artifact.Segments {
			if _, err := put(segment); err != nil {
				return abort(err)
			}
		}
	}
	for _, artifact := range artifacts {
		replaced, err := put(artifact.PlaylistPath)
		if err != nil {
			return abort(err)
		}
		if replaced {
			for _, segment := range artifact.Segments {
				keep[job.Prefix+filepath.Base(segment)] = true
			}
		}
	}
	if _, err := put(dir.MasterPath()); err != nil {
		return abort(err)
	}

	return uploaded, nil
}

func (o *Orchestrator) rollback(ctx context.Context, job *models.ConversionJob, keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	logger := o.jobLogger(job)
	if err := o.dest.DeleteAll(ctx, keys); err != nil {
		metrics.RecordError("pipeline", "rollback")
		logger.WithField("keys", len(keys)).ErrorWithErr("Failed to remove partial upload", err)
		return
	}
	logger.WithField("keys", len(keys)).Warn("Removed partial upload")
}

// stage runs fn inside a child span of the job
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	span, ctx := tracing.StartSpan(ctx, name)
	err := fn(ctx)
	tracing.FinishSpan(span, err)
	return err
}

// publish hands a finished result to the ledger and notifier. Their
// failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, result *models.ConversionResult) {
	logger := o.logger.WithJobID(result.JobID)

	if o.results != nil {
		if err := o.results.RecordConversion(ctx, result); err != nil {
			metrics.RecordError("pipeline", "ledger")
			logger.WarnWithErr("Failed to record conversion", err)
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyConversion(ctx, result); err != nil {
			metrics.RecordError("pipeline", "notify")
			logger.WarnWithErr("Failed to send conversion notification", err)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *models.ConversionJob, start time.Time, err error) error {
	job.Fail(err)
	o.record(ctx, job)
	metrics.RecordConversion("failure", time.Since(start).Seconds())

	o.jobLogger(job).LogJobEvent(job.ID, "state", string(job.State), map[string]interface{}{
		"error": err.Error(),
	})
	return err
}

func (o *Orchestrator) transition(ctx context.Context, job *models.ConversionJob, state models.JobState) {
	job.Transition(state)
	o.record(ctx, job)
	o.jobLogger(job).LogJobEvent(job.ID, "state", string(state), nil)
}

func (o *Orchestrator) record(ctx context.Context, job *models.ConversionJob) {
	if o.status == nil {
		return
	}
	if err := o.status.SaveJob(ctx, job); err != nil {
		o.jobLogger(job).WarnWithErr("Failed to record job status", err)
	}
}

func (o *Orchestrator) newJob(id string, source models.SourceVideo, prefix string) *models.ConversionJob {
	now := time.Now()
	return &models.ConversionJob{
		ID:        id,
		Source:    source,
		Ladder:    o.opts.Ladder,
		Prefix:    prefix,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (o *Orchestrator) jobLogger(job *models.ConversionJob) *logging.Logger {
	return o.logger.WithJobID(job.ID).WithSourceKey(job.Source.Key)
}

// batchPrefix groups all files of one source under its base name
func (o *Orchestrator) batchPrefix(baseName string) string {
	return o.opts.OutputPrefix + baseName + "/"
}

// freshPrefix is the per-job prefix of the uuid upload scheme
func (o *Orchestrator) freshPrefix(jobID string) string {
	return o.opts.OutputPrefix + jobID + "/"
}

func writeFile(dst string, body io.Reader) error {
	if body == nil {
		return errors.New("upload has no body")
	}

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write upload: %w", err)
	}
	if written == 0 {
		return errors.New("upload is empty")
	}

	metrics.RecordUpload(written)
	return nil
}
