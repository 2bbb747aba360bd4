package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsbatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hlsbatch_video_upload_size_bytes",
			Help:    "Size of uploaded source videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	// Conversion Metrics
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_conversions_total",
			Help: "Total number of conversion jobs by outcome",
		},
		[]string{"outcome"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsbatch_conversion_duration_seconds",
			Help:    "End-to-end conversion duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		},
		[]string{"outcome"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsbatch_jobs_in_progress",
			Help: "Number of conversion jobs currently being processed",
		},
	)

	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_scan_runs_total",
			Help: "Total number of whole-bucket scans",
		},
		[]string{"status"},
	)

	// Encoder Metrics
	RenditionEncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsbatch_rendition_encode_duration_seconds",
			Help:    "Time spent encoding one rendition",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"rendition"},
	)

	RenditionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_rendition_failures_total",
			Help: "Total number of failed rendition encodes",
		},
		[]string{"rendition", "reason"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsbatch_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Staging Metrics
	StagingCleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hlsbatch_staging_cleanup_failures_total",
			Help: "Total number of staging directories that could not be removed",
		},
	)

	StagingDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsbatch_staging_directories",
			Help: "Number of job directories present in the staging area",
		},
	)

	StagingBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsbatch_staging_bytes",
			Help: "Bytes held in the staging area",
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hlsbatch_queue_depth",
			Help: "Number of messages waiting in a queue",
		},
		[]string{"queue"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsbatch_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUpload records the size of an uploaded source video
func RecordUpload(size int64) {
	VideoUploadSizeBytes.Observe(float64(size))
}

// RecordConversion records a finished conversion job
func RecordConversion(outcome string, duration float64) {
	ConversionsTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		ConversionDuration.WithLabelValues(outcome).Observe(duration)
	}
}

// JobStarted increments the in-progress gauge
func JobStarted() {
	JobsInProgress.Inc()
}

// JobFinished decrements the in-progress gauge
func JobFinished() {
	JobsInProgress.Dec()
}

// RecordScan records a whole-bucket scan
func RecordScan(status string) {
	ScanRunsTotal.WithLabelValues(status).Inc()
}

// RecordRenditionEncode records one rendition encode
func RecordRenditionEncode(rendition string, duration float64) {
	RenditionEncodeDuration.WithLabelValues(rendition).Observe(duration)
}

// RecordRenditionFailure records a failed rendition encode
func RecordRenditionFailure(rendition, reason string) {
	RenditionFailuresTotal.WithLabelValues(rendition, reason).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytesTransferred > 0 {
		StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
	}
}

// RecordStagingCleanupFailure records a staging directory that was left behind
func RecordStagingCleanupFailure() {
	StagingCleanupFailuresTotal.Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetQueueDepth records the number of messages waiting in queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetStagingUsage records how much the staging area currently holds
func SetStagingUsage(directories int, bytes int64) {
	StagingDirectories.Set(float64(directories))
	StagingBytes.Set(float64(bytes))
}
