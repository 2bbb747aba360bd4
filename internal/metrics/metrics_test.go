package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/v1/videos/upload", "201", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/videos/upload", "201"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordConversion(t *testing.T) {
	ConversionsTotal.Reset()
	ConversionDuration.Reset()

	RecordConversion("completed", 120.5)
	RecordConversion("failed", 30.2)
	RecordConversion("completed", 60)
	RecordConversion("skipped", 0)

	completed := testutil.ToFloat64(ConversionsTotal.WithLabelValues("completed"))
	if completed != 2.0 {
		t.Errorf("Expected completed counter to be 2.0, got %f", completed)
	}

	failed := testutil.ToFloat64(ConversionsTotal.WithLabelValues("failed"))
	if failed != 1.0 {
		t.Errorf("Expected failed counter to be 1.0, got %f", failed)
	}

	skipped := testutil.ToFloat64(ConversionsTotal.WithLabelValues("skipped"))
	if skipped != 1.0 {
		t.Errorf("Expected skipped counter to be 1.0, got %f", skipped)
	}

	// Skips are not timed
	if n := testutil.CollectAndCount(ConversionDuration); n != 2 {
		t.Errorf("Expected 2 duration series, got %d", n)
	}
}

func TestJobsInProgress(t *testing.T) {
	JobsInProgress.Set(0)

	JobStarted()
	JobStarted()
	JobFinished()

	if got := testutil.ToFloat64(JobsInProgress); got != 1.0 {
		t.Errorf("Expected jobs in progress to be 1.0, got %f", got)
	}
}

func TestRecordRenditionFailure(t *testing.T) {
	RenditionFailuresTotal.Reset()

	RecordRenditionFailure("720", "timeout")
	RecordRenditionFailure("720", "timeout")
	RecordRenditionFailure("1080", "engine")

	if got := testutil.ToFloat64(RenditionFailuresTotal.WithLabelValues("720", "timeout")); got != 2.0 {
		t.Errorf("Expected 720 timeouts to be 2.0, got %f", got)
	}
	if got := testutil.ToFloat64(RenditionFailuresTotal.WithLabelValues("1080", "engine")); got != 1.0 {
		t.Errorf("Expected 1080 engine failures to be 1.0, got %f", got)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("put", "success", 1.234, 1048576)
	RecordStorageOperation("stat", "success", 0.01, 0)

	counter := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("put", "success"))
	if counter != 1.0 {
		t.Errorf("Expected storage operation counter to be 1.0, got %f", counter)
	}

	bytes := testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("put"))
	if bytes != 1048576.0 {
		t.Errorf("Expected bytes transferred to be 1048576.0, got %f", bytes)
	}
}

func TestRecordScanAndErrors(t *testing.T) {
	ScanRunsTotal.Reset()
	ErrorsTotal.Reset()

	RecordScan("completed")
	RecordError("storage", "list")
	RecordError("storage", "list")

	if got := testutil.ToFloat64(ScanRunsTotal.WithLabelValues("completed")); got != 1.0 {
		t.Errorf("Expected 1 completed scan, got %f", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("storage", "list")); got != 2.0 {
		t.Errorf("Expected 2 storage list errors, got %f", got)
	}
}

func TestGauges(t *testing.T) {
	SetQueueDepth("hls_conversions", 7)
	SetStagingUsage(3, 4096)

	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("hls_conversions")); got != 7.0 {
		t.Errorf("Expected queue depth 7, got %f", got)
	}
	if got := testutil.ToFloat64(StagingDirectories); got != 3.0 {
		t.Errorf("Expected 3 staging directories, got %f", got)
	}
	if got := testutil.ToFloat64(StagingBytes); got != 4096.0 {
		t.Errorf("Expected 4096 staging bytes, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	RecordStagingCleanupFailure()

	srv := httptest.NewServer(NewHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "hlsbatch_staging_cleanup_failures_total") {
		t.Error("Expected staging cleanup metric to be exported")
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/jobs/:id", "200", 0.123)
	}
}
