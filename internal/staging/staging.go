// Package staging manages the per-job scratch directories that hold a
// downloaded source and its encoded renditions until upload.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

const (
	sourceName = "source"
	outputName = "hls"
)

// Area allocates job directories below a single root
type Area struct {
	root   string
	layout models.Layout
	logger *logging.Logger
}

// NewArea creates an Area. The root is created lazily by Prepare.
func NewArea(root string, layout models.Layout, logger *logging.Logger) *Area {
	if logger == nil {
		logger = logging.Nop()
	}
	if layout == "" {
		layout = models.LayoutNamed
	}
	return &Area{root: root, layout: layout, logger: logger}
}

// Root returns the directory all job directories live under
func (a *Area) Root() string {
	return a.root
}

// Layout returns the naming convention every Dir of this area uses
func (a *Area) Layout() models.Layout {
	return a.layout
}

// Prepare creates a fresh directory for one job. The leaf directory is
// created exclusively so no two jobs can share it.
func (a *Area) Prepare(baseName string) (*Dir, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, fmt.Errorf("base name is required")
	}
	if err := os.MkdirAll(a.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(a.root, fmt.Sprintf("%s-%s", sanitize(baseName), id))
	if err := os.Mkdir(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	dir := &Dir{id: id, path: path, baseName: baseName, layout: a.layout}
	if err := os.Mkdir(dir.OutputDir(), 0755); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"base_name": baseName,
		"path":      path,
	}).Debug("Staging directory prepared")

	return dir, nil
}

// Teardown removes the job directory and everything in it. Failures are
// logged and counted but never returned.
func (a *Area) Teardown(dir *Dir) {
	if dir == nil {
		return
	}
	if err := os.RemoveAll(dir.path); err != nil {
		metrics.RecordStagingCleanupFailure()
		a.logger.WithField("path", dir.path).WarnWithErr("Failed to remove staging directory", err)
		return
	}
	a.logger.WithField("path", dir.path).Debug("Staging directory removed")
}

// Dir is the handle for one job's staging directory
type Dir struct {
	id       string
	path     string
	baseName string
	layout   models.Layout
}

// ID returns the unique suffix of the directory
func (d *Dir) ID() string { return d.id }

// Path returns the job directory
func (d *Dir) Path() string { return d.path }

// BaseName returns the base name the directory was prepared for
func (d *Dir) BaseName() string { return d.baseName }

// Layout returns the artifact naming convention
func (d *Dir) Layout() models.Layout { return d.layout }

// SourcePath is where the downloaded source is written. ext keeps the
// original container hint for the encoder.
func (d *Dir) SourcePath(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(d.path, sourceName+strings.ToLower(ext))
}

// OutputDir holds every artifact that gets uploaded
func (d *Dir) OutputDir() string {
	return filepath.Join(d.path, outputName)
}

// PlaylistPath returns the sub-playlist path for a rendition
func (d *Dir) PlaylistPath(spec models.RenditionSpec) string {
	return filepath.Join(d.OutputDir(), d.layout.PlaylistName(d.baseName, spec))
}

// SegmentPattern returns the printf pattern the encoder numbers segments with
func (d *Dir) SegmentPattern(spec models.RenditionSpec) string {
	return filepath.Join(d.OutputDir(), d.layout.SegmentPattern(d.baseName, spec))
}

// MasterPath returns the master playlist path
func (d *Dir) MasterPath() string {
	return filepath.Join(d.OutputDir(), d.layout.MasterName(d.baseName))
}

// sanitize keeps directory names on a single path level
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, name)
}
