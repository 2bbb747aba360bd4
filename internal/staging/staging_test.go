package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

func TestPrepareCreatesFreshDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "staging")
	area := NewArea(root, models.LayoutNamed, nil)

	first, err := area.Prepare("heat")
	require.NoError(t, err)
	second, err := area.Prepare("heat")
	require.NoError(t, err)

	assert.NotEqual(t, first.Path(), second.Path())
	assert.True(t, strings.HasPrefix(filepath.Base(first.Path()), "heat-"))
	assert.DirExists(t, first.OutputDir())
	assert.DirExists(t, second.OutputDir())
}

func TestPrepareRejectsEmptyBaseName(t *testing.T) {
	area := NewArea(t.TempDir(), models.LayoutNamed, nil)
	_, err := area.Prepare("  ")
	assert.Error(t, err)
}

func TestDirPathsNamedLayout(t *testing.T) {
	area := NewArea(t.TempDir(), models.LayoutNamed, nil)
	dir, err := area.Prepare("heat")
	require.NoError(t, err)

	out := dir.OutputDir()
	assert.Equal(t, filepath.Join(dir.Path(), "source.mp4"), dir.SourcePath(".MP4"))
	assert.Equal(t, filepath.Join(dir.Path(), "source.mkv"), dir.SourcePath("mkv"))
	assert.Equal(t, filepath.Join(out, "heat-720.m3u8"), dir.PlaylistPath(models.Rendition720p))
	assert.Equal(t, filepath.Join(out, "heat-720_%03d.ts"), dir.SegmentPattern(models.Rendition720p))
	assert.Equal(t, filepath.Join(out, "heat.m3u8"), dir.MasterPath())
}

func TestDirPathsIndexLayout(t *testing.T) {
	area := NewArea(t.TempDir(), models.LayoutIndex, nil)
	dir, err := area.Prepare("heat")
	require.NoError(t, err)

	out := dir.OutputDir()
	assert.Equal(t, filepath.Join(out, "index_1080.m3u8"), dir.PlaylistPath(models.Rendition1080p))
	assert.Equal(t, filepath.Join(out, "index_1080_%03d.ts"), dir.SegmentPattern(models.Rendition1080p))
	assert.Equal(t, filepath.Join(out, "master.m3u8"), dir.MasterPath())
}

func TestPrepareSanitizesSeparators(t *testing.T) {
	root := t.TempDir()
	area := NewArea(root, models.LayoutNamed, nil)

	for _, name := range []string{`odd\name`, "odd/name", "../escape"} {
		dir, err := area.Prepare(name)
		require.NoError(t, err, name)
		assert.Equal(t, root, filepath.Dir(dir.Path()), name)
		assert.Equal(t, name, dir.BaseName())
	}
}

func TestAreaLayoutDefaultsToNamed(t *testing.T) {
	assert.Equal(t, models.LayoutNamed, NewArea(t.TempDir(), "", nil).Layout())
	assert.Equal(t, models.LayoutIndex, NewArea(t.TempDir(), models.LayoutIndex, nil).Layout())
}

func TestTeardownRemovesEverything(t *testing.T) {
	area := NewArea(t.TempDir(), models.LayoutNamed, nil)
	dir, err := area.Prepare("heat")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dir.SourcePath(".mp4"), []byte("src"), 0644))
	require.NoError(t, os.WriteFile(dir.PlaylistPath(models.Rendition360p), []byte("#EXTM3U\n"), 0644))

	area.Teardown(dir)
	assert.NoDirExists(t, dir.Path())

	// Second teardown and nil handles are harmless
	area.Teardown(dir)
	area.Teardown(nil)
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, nil)
		assert.Empty(t, result.Removed, "path %q", dir)
		assert.Empty(t, result.Errors, "path %q", dir)
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	root := t.TempDir()

	oldDir := filepath.Join(root, "heat-old")
	require.NoError(t, os.Mkdir(oldDir, 0o755))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

	recentDir := filepath.Join(root, "heat-recent")
	require.NoError(t, os.Mkdir(recentDir, 0o755))

	lockFile := filepath.Join(root, "batch.lock")
	require.NoError(t, os.WriteFile(lockFile, nil, 0o644))
	require.NoError(t, os.Chtimes(lockFile, oldTime, oldTime))

	result := CleanStale(context.Background(), root, time.Hour, nil)

	require.Len(t, result.Removed, 1)
	assert.Equal(t, oldDir, result.Removed[0])
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, recentDir)
	assert.FileExists(t, lockFile)
}

func TestListDirectories(t *testing.T) {
	root := t.TempDir()
	area := NewArea(root, models.LayoutNamed, nil)
	dir, err := area.Prepare("heat")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dir.SourcePath(".mp4"), []byte("12345"), 0644))

	dirs, err := ListDirectories(root)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, dir.Path(), dirs[0].Path)
	assert.Equal(t, int64(5), dirs[0].Size)

	missing, err := ListDirectories(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
