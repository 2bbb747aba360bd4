package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/staging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// memSource serves source videos from memory
type memSource struct {
	objects   map[string]string
	listErr   error
	downloads []string
}

func (m *memSource) List(ctx context.Context, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memSource) DownloadFile(ctx context.Context, key, filePath string) (int64, error) {
	m.downloads = append(m.downloads, key)
	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return int64(len(data)), os.WriteFile(filePath, []byte(data), 0644)
}

// memDest records published artifacts in upload order
type memDest struct {
	mu        sync.Mutex
	objects   map[string]string
	order     []string
	failOn    string // PutFile fails for keys with this suffix
	existsErr error
}

func newMemDest() *memDest {
	return &memDest{objects: make(map[string]string)}
}

func (m *memDest) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memDest) PutFile(ctx context.Context, key, filePath string) error {
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return fmt.Errorf("put %s: %w", key, storage.ErrUnavailable)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	m.order = append(m.order, key)
	return nil
}

func (m *memDest) DeleteAll(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *memDest) URL(key string) string {
	return "https://cdn.example.com/" + key
}

// fakeEncoder writes segments and a playlist per rendition where the staging
// directory says ffmpeg would
type fakeEncoder struct {
	segments   int
	failLabel  string
	blockWrite bool // occupy the master path so writing it fails
	calls      map[string]int
	sourceDir  []string
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{segments: 2, calls: make(map[string]int)}
}

func (f *fakeEncoder) EncodeLadder(ctx context.Context, sourcePath string, out transcoder.Output, ladder []models.RenditionSpec) ([]*models.RenditionArtifact, error) {
	dir := out.(*staging.Dir)
	f.calls[dir.BaseName()]++
	f.sourceDir = append(f.sourceDir, filepath.Dir(sourcePath))

	if f.blockWrite {
		if err := os.Mkdir(dir.MasterPath(), 0755); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("source not staged: %w", err)
	}

	var artifacts []*models.RenditionArtifact
	for _, spec := range ladder {
		if spec.Label == f.failLabel {
			return nil, &transcoder.EncodeError{Label: spec.Label, Err: errors.New("exit status 1"), Stderr: "conversion failed"}
		}

		artifact := &models.RenditionArtifact{
			Spec:         spec,
			PlaylistPath: out.PlaylistPath(spec),
		}
		var playlist strings.Builder
		playlist.WriteString("#EXTM3U\n")
		for i := 0; i < f.segments; i++ {
			segment := fmt.Sprintf(out.SegmentPattern(spec), i)
			if err := os.WriteFile(segment, []byte("ts"), 0644); err != nil {
				return nil, err
			}
			playlist.WriteString("#EXTINF:6.0,\n" + filepath.Base(segment) + "\n")
			artifact.Segments = append(artifact.Segments, segment)
		}
		if err := os.WriteFile(artifact.PlaylistPath, []byte(playlist.String()), 0644); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

type statusLog struct {
	mu     sync.Mutex
	states map[string][]models.JobState
}

func (s *statusLog) SaveJob(ctx context.Context, job *models.ConversionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string][]models.JobState)
	}
	s.states[job.Source.Key] = append(s.states[job.Source.Key], job.State)
	return nil
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordConversion(ctx context.Context, result *models.ConversionResult) error {
	return m.Called(ctx, result).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyConversion(ctx context.Context, result *models.ConversionResult) error {
	return m.Called(ctx, result).Error(0)
}

type fixture struct {
	source  *memSource
	dest    *memDest
	encoder *fakeEncoder
	status  *statusLog
	root    string
	orch    *Orchestrator
}

func newFixture(t *testing.T, opts Options, extra ...Option) *fixture {
	t.Helper()
	return newLayoutFixture(t, models.LayoutNamed, opts, extra...)
}

func newLayoutFixture(t *testing.T, layout models.Layout, opts Options, extra ...Option) *fixture {
	t.Helper()

	f := &fixture{
		source: &memSource{objects: map[string]string{
			"movies/heat.mp4":       "heat-bytes",
			"movies/ronin.MP4":      "ronin-bytes",
			"movies/poster.jpg":     "jpeg",
			"movies/notes/readme":   "text",
			"movies/collateral.mp4": "collateral-bytes",
		}},
		dest:    newMemDest(),
		encoder: newFakeEncoder(),
		status:  &statusLog{},
		root:    filepath.Join(t.TempDir(), "staging"),
	}
	area := staging.NewArea(f.root, layout, nil)
	options := append([]Option{WithStatusRecorder(f.status)}, extra...)
	f.orch = New(f.source, f.dest, f.encoder, area, opts, nil, options...)
	return f
}

func (f *fixture) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directories left behind")
}

func TestProcessKeyPublishesLadder(t *testing.T) {
	f := newFixture(t, Options{OutputPrefix: "hls"})

	result, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, "heat", result.BaseName)
	assert.Equal(t, "hls/heat/", result.Prefix)
	assert.Equal(t, "hls/heat/heat.m3u8", result.MasterKey)
	assert.Equal(t, "https://cdn.example.com/hls/heat/heat.m3u8", result.MasterURL)
	assert.Equal(t, []string{"360", "480", "720", "1080"}, result.Renditions)
	// 4 renditions x (2 segments + 1 playlist) + master
	assert.Equal(t, 13, result.Uploaded)
	assert.Len(t, f.dest.objects, 13)

	master := f.dest.objects["hls/heat/heat.m3u8"]
	assert.True(t, strings.HasPrefix(master, "#EXTM3U\n"))
	assert.Contains(t, master, "#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720\nheat-720.m3u8\n")

	f.assertStagingEmpty(t)
	assert.Equal(t, []models.JobState{
		models.JobStateDiscovered,
		models.JobStateDownloading,
		models.JobStateEncoding,
		models.JobStateManifestBuilding,
		models.JobStateUploading,
		models.JobStateCleaningUp,
		models.JobStateDone,
	}, f.status.states["movies/heat.mp4"])
}

func TestUploadOrder(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)

	order := f.dest.order
	require.Len(t, order, 13)
	for _, key := range order[:8] {
		assert.True(t, strings.HasSuffix(key, ".ts"), "expected segment, got %s", key)
	}
	for _, key := range order[8:12] {
		assert.True(t, strings.HasSuffix(key, ".m3u8"), "expected sub-playlist, got %s", key)
	}
	assert.Equal(t, "heat/heat.m3u8", order[12])
}

func TestIndexLayout(t *testing.T) {
	f := newLayoutFixture(t, models.LayoutIndex, Options{})

	result, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)

	assert.Equal(t, "heat/master.m3u8", result.MasterKey)
	assert.Contains(t, f.dest.objects, "heat/index_1080.m3u8")
	assert.Contains(t, f.dest.objects, "heat/index_360_001.ts")
	assert.Contains(t, f.dest.objects["heat/master.m3u8"], "\nindex_480.m3u8\n")
}

func TestScanIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{SourcePrefix: "movies/", SourceSuffixes: []string{".mp4"}})
	ctx := context.Background()

	first, err := f.orch.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Listed)
	assert.Len(t, first.Converted, 3)
	assert.Empty(t, first.Skipped)
	assert.Empty(t, first.Failed)

	uploads := len(f.dest.order)
	downloads := len(f.source.downloads)

	second, err := f.orch.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Converted)
	assert.ElementsMatch(t, []string{"movies/heat.mp4", "movies/ronin.MP4", "movies/collateral.mp4"}, second.Skipped)
	assert.Equal(t, 3, second.Candidates())

	assert.Equal(t, uploads, len(f.dest.order), "second scan uploaded again")
	assert.Equal(t, downloads, len(f.source.downloads), "second scan downloaded again")
	for base, calls := range f.encoder.calls {
		assert.Equal(t, 1, calls, "%s encoded more than once", base)
	}
	assert.Equal(t, models.JobStateSkipped, last(f.status.states["movies/heat.mp4"]))
	f.assertStagingEmpty(t)
}

func TestSkipDetectionWithSingleSubPlaylist(t *testing.T) {
	f := newFixture(t, Options{})
	f.dest.objects["heat/heat-480.m3u8"] = "#EXTM3U\n"

	converted, err := f.orch.AlreadyConverted(context.Background(), "heat")
	require.NoError(t, err)
	assert.True(t, converted)

	result, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, f.source.downloads)
	assert.Zero(t, f.encoder.calls["heat"])
	assert.Len(t, f.dest.objects, 1)
}

func TestEncoderFailureUploadsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.encoder.failLabel = "720"

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.Error(t, err)

	var encErr *transcoder.EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "720", encErr.Label)

	assert.Empty(t, f.dest.objects)
	f.assertStagingEmpty(t)
	assert.Equal(t, models.JobStateFailed, last(f.status.states["movies/heat.mp4"]))

	converted, err := f.orch.AlreadyConverted(context.Background(), "heat")
	require.NoError(t, err)
	assert.False(t, converted, "failed job must not leave a skip marker")
}

func TestUploadFailureRollsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.dest.failOn = "heat-1080.m3u8"

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	assert.Empty(t, f.dest.objects, "partial upload left behind")
	assert.NotEmpty(t, f.dest.order)
	f.assertStagingEmpty(t)

	// The next scan retries the video since no marker survived
	f.dest.failOn = ""
	result, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestBasenameUploadFailureKeepsEarlierOutput(t *testing.T) {
	f := newFixture(t, Options{UploadKeyScheme: "basename"})
	ctx := context.Background()

	_, err := f.orch.ProcessUpload(ctx, "heat.mp4", strings.NewReader("first"))
	require.NoError(t, err)
	published := make(map[string]string, len(f.dest.objects))
	for key, data := range f.dest.objects {
		published[key] = data
	}
	require.Len(t, published, 13)

	// The second encode is longer, so it adds segment keys the first lacked
	f.encoder.segments = 3
	f.dest.failOn = "heat-1080.m3u8"
	_, err = f.orch.ProcessUpload(ctx, "heat.mp4", strings.NewReader("second"))
	require.ErrorIs(t, err, storage.ErrUnavailable)

	for key := range published {
		assert.Contains(t, f.dest.objects, key, "earlier output removed")
	}
	assertPlayable(t, f.dest, "heat/", "heat/heat.m3u8")
	f.assertStagingEmpty(t)

	converted, err := f.orch.AlreadyConverted(ctx, "heat")
	require.NoError(t, err)
	assert.True(t, converted)
}

func TestBasenameUploadFailureOnFirstRunRemovesEverything(t *testing.T) {
	f := newFixture(t, Options{UploadKeyScheme: "basename"})
	f.dest.failOn = "heat.m3u8"

	_, err := f.orch.ProcessUpload(context.Background(), "heat.mp4", strings.NewReader("video"))
	require.Error(t, err)
	assert.Empty(t, f.dest.objects)
}

func TestStagingDiskFailureCleansUp(t *testing.T) {
	t.Run("master write", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.encoder.blockWrite = true

		_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
		require.Error(t, err)

		assert.Empty(t, f.dest.objects)
		assert.Empty(t, f.dest.order, "nothing may be uploaded")
		f.assertStagingEmpty(t)
		assert.Equal(t, models.JobStateFailed, last(f.status.states["movies/heat.mp4"]))
	})

	t.Run("prepare", func(t *testing.T) {
		f := newFixture(t, Options{})
		// A regular file where the staging root should be
		require.NoError(t, os.WriteFile(f.root, []byte("x"), 0644))

		_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
		require.ErrorContains(t, err, "staging")

		assert.Empty(t, f.source.downloads)
		assert.Empty(t, f.dest.order)
		assert.Equal(t, models.JobStateFailed, last(f.status.states["movies/heat.mp4"]))
	})
}

func TestDownloadFailureCleansUp(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.orch.ProcessKey(context.Background(), "movies/missing.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.encoder.calls["missing"])
	f.assertStagingEmpty(t)
}

func TestScanContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.encoder.failLabel = "360"

	report, err := f.orch.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Failed, 3)
	assert.Empty(t, report.Converted)
	assert.Len(t, f.encoder.calls, 3)
	f.assertStagingEmpty(t)
}

func TestScanListFailureFailsRun(t *testing.T) {
	f := newFixture(t, Options{})
	f.source.listErr = fmt.Errorf("list: %w", storage.ErrUnavailable)

	report, err := f.orch.Scan(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Empty(t, f.encoder.calls)
}

func TestScanStopsWhenCanceled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orch.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Candidates())
}

func TestSkipPredicateErrorFailsJob(t *testing.T) {
	f := newFixture(t, Options{})
	f.dest.existsErr = storage.ErrUnavailable

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Empty(t, f.source.downloads)
}

func TestProcessUploadKeySchemes(t *testing.T) {
	t.Run("uuid", func(t *testing.T) {
		f := newFixture(t, Options{OutputPrefix: "uploads/"})

		first, err := f.orch.ProcessUpload(context.Background(), "heat.mp4", strings.NewReader("video"))
		require.NoError(t, err)
		second, err := f.orch.ProcessUpload(context.Background(), "heat.mp4", strings.NewReader("video"))
		require.NoError(t, err)

		assert.Equal(t, "uploads/"+first.JobID+"/", first.Prefix)
		assert.NotEqual(t, first.Prefix, second.Prefix)
		assert.Equal(t, "uploads/"+first.JobID+"/heat.m3u8", first.MasterKey)
		assert.Len(t, f.dest.objects, 26)
		f.assertStagingEmpty(t)
	})

	t.Run("basename never skips", func(t *testing.T) {
		f := newFixture(t, Options{UploadKeyScheme: "basename"})
		f.dest.objects["heat/heat-360.m3u8"] = "#EXTM3U\n"

		result, err := f.orch.ProcessUpload(context.Background(), "clips/heat.mov", strings.NewReader("video"))
		require.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Equal(t, "heat/", result.Prefix)
		assert.Equal(t, 1, f.encoder.calls["heat"])
	})

	t.Run("empty body", func(t *testing.T) {
		f := newFixture(t, Options{})

		_, err := f.orch.ProcessUpload(context.Background(), "heat.mp4", strings.NewReader(""))
		assert.ErrorContains(t, err, "empty")
		assert.Empty(t, f.dest.objects)
		f.assertStagingEmpty(t)
	})
}

func TestPublishFailuresDoNotFailJob(t *testing.T) {
	recorder := new(mockRecorder)
	notifier := new(mockNotifier)
	recorder.On("RecordConversion", mock.Anything, mock.AnythingOfType("*models.ConversionResult")).Return(errors.New("db down"))
	notifier.On("NotifyConversion", mock.Anything, mock.MatchedBy(func(r *models.ConversionResult) bool {
		return r.BaseName == "heat" && r.MasterKey == "heat/heat.m3u8"
	})).Return(errors.New("hook down"))

	f := newFixture(t, Options{}, WithResultRecorder(recorder), WithNotifier(notifier))

	result, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)
	assert.Equal(t, "heat/heat.m3u8", result.MasterKey)

	recorder.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestFailedJobIsNotPublished(t *testing.T) {
	recorder := new(mockRecorder)
	notifier := new(mockNotifier)
	f := newFixture(t, Options{}, WithResultRecorder(recorder), WithNotifier(notifier))
	f.encoder.failLabel = "480"

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.Error(t, err)

	recorder.AssertNotCalled(t, "RecordConversion", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "NotifyConversion", mock.Anything, mock.Anything)
}

type probeStub struct {
	err error
}

func (p probeStub) ProbeVideo(ctx context.Context, inputPath string) (*transcoder.VideoMetadata, error) {
	return nil, p.err
}

func TestInvalidSourceIsRejected(t *testing.T) {
	f := newFixture(t, Options{}, WithProber(probeStub{err: transcoder.ErrNoVideoStream}))

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	assert.ErrorIs(t, err, transcoder.ErrNoVideoStream)
	assert.Zero(t, f.encoder.calls["heat"])
	f.assertStagingEmpty(t)
}

func TestPlan(t *testing.T) {
	f := newFixture(t, Options{})
	f.dest.objects["ronin/ronin-1080.m3u8"] = "#EXTM3U\n"

	entries, err := f.orch.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byBase := make(map[string]bool)
	for _, entry := range entries {
		byBase[entry.BaseName] = entry.Converted
	}
	assert.Equal(t, map[string]bool{"collateral": false, "heat": false, "ronin": true}, byBase)
	assert.Empty(t, f.source.downloads)
}

func TestStagingDirectoriesAreDistinct(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)
	f.dest.objects = make(map[string]string)
	_, err = f.orch.ProcessKey(context.Background(), "movies/heat.mp4")
	require.NoError(t, err)

	require.Len(t, f.encoder.sourceDir, 2)
	assert.NotEqual(t, f.encoder.sourceDir[0], f.encoder.sourceDir[1])
}

// assertPlayable checks that every playlist reachable from master exists
// along with each file it lists
func assertPlayable(t *testing.T, dest *memDest, prefix, master string) {
	t.Helper()
	pending := []string{master}
	for len(pending) > 0 {
		key := pending[0]
		pending = pending[1:]

		data, ok := dest.objects[key]
		if !assert.True(t, ok, "%s is referenced but missing", key) {
			continue
		}
		if !strings.HasSuffix(key, ".m3u8") {
			continue
		}
		for _, line := range strings.Split(data, "\n") {
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			pending = append(pending, prefix+line)
		}
	}
}

func last(states []models.JobState) models.JobState {
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}
