package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// Converter runs a single uploaded video through the pipeline
type Converter interface {
	ProcessUpload(ctx context.Context, filename string, body io.Reader) (*models.ConversionResult, error)
}

// Publisher enqueues conversions of objects already in the source bucket
type Publisher interface {
	Publish(ctx context.Context, req *queue.ConversionRequest) error
}

// JobStore serves job status written by any process
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*models.ConversionJob, error)
	RecentJobs(ctx context.Context, limit int) ([]*models.ConversionJob, error)
	Ping(ctx context.Context) error
}

// ConversionHistory serves the ledger of finished conversions
type ConversionHistory interface {
	GetConversion(ctx context.Context, jobID string) (*models.ConversionResult, error)
	ListConversions(ctx context.Context, limit, offset int) ([]*models.ConversionResult, error)
	Ping(ctx context.Context) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SystemMonitor reports queue and staging health
type SystemMonitor interface {
	Snapshot() monitoring.Snapshot
	Status() string
	Alerts() []string
}

// API holds the handler dependencies. Only converter is required.
type API struct {
	converter     Converter
	publisher     Publisher
	jobs          JobStore
	history       ConversionHistory
	monitor       SystemMonitor
	maxUploadSize int64
	logger        *logging.Logger
}

// errorResponse is the structured failure payload
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type uploadResponse struct {
	JobID      string   `json:"job_id"`
	MasterKey  string   `json:"master_key"`
	MasterURL  string   `json:"master_url"`
	Renditions []string `json:"renditions"`
}

func setupRouter(api *API, auth *middleware.Authenticator, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(auth.JWTAuth())
	{
		v1.POST("/videos/upload", middleware.RateLimit(limiter), api.uploadVideo)
		v1.POST("/conversions", api.enqueueConversion)
		v1.GET("/conversions", api.listConversions)
		v1.GET("/conversions/:id", api.getConversion)
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/:id", api.getJob)
		v1.GET("/system", api.systemStatus)
	}

	return router
}

func abortWithError(c *gin.Context, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]func(context.Context) error{}
	if api.jobs != nil {
		checks["redis"] = api.jobs.Ping
	}
	if api.history != nil {
		checks["database"] = api.history.Ping
	}

	for name, check := range checks {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"component": name,
				"error":     err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Upload video endpoint. The conversion runs inside the request.
func (api *API) uploadVideo(c *gin.Context) {
	if api.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadSize)
	}

	header, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "Video exceeds upload limit", err)
			return
		}
		abortWithError(c, http.StatusBadRequest, "No video file provided", err)
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to read upload", err)
		return
	}
	defer file.Close()

	result, err := api.converter.ProcessUpload(c.Request.Context(), header.Filename, file)
	if err != nil {
		api.logger.WithField("filename", header.Filename).ErrorWithErr("Upload conversion failed", err)
		status, message := conversionFailure(err)
		abortWithError(c, status, message, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{
		JobID:      result.JobID,
		MasterKey:  result.MasterKey,
		MasterURL:  result.MasterURL,
		Renditions: result.Renditions,
	})
}

// conversionFailure maps a pipeline error to a status and message
func conversionFailure(err error) (int, string) {
	var encodeErr *transcoder.EncodeError
	switch {
	case errors.Is(err, transcoder.ErrEncodeTimeout):
		return http.StatusGatewayTimeout, "Transcoding timed out"
	case errors.Is(err, transcoder.ErrNoVideoStream), errors.As(err, &encodeErr):
		return http.StatusUnprocessableEntity, "Video could not be transcoded"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusBadGateway, "Object store unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "Request canceled"
	default:
		return http.StatusInternalServerError, "Conversion failed"
	}
}

// Enqueue conversion endpoint
func (api *API) enqueueConversion(c *gin.Context) {
	if api.publisher == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Conversion queue not configured", nil)
		return
	}

	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	requestID := c.GetString(middleware.RequestIDContextKey)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	msg := &queue.ConversionRequest{RequestID: requestID, Key: req.Key}
	if err := api.publisher.Publish(c.Request.Context(), msg); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, "Failed to queue conversion", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"key": req.Key, "request_id": requestID})
}

// Get job endpoint
func (api *API) getJob(c *gin.Context) {
	if api.jobs == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Job status store not configured", nil)
		return
	}

	job, err := api.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to load job", err)
		return
	}
	if job == nil {
		abortWithError(c, http.StatusNotFound, "Job not found", nil)
		return
	}

	c.JSON(http.StatusOK, job)
}

// List recent jobs endpoint
func (api *API) listJobs(c *gin.Context) {
	if api.jobs == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Job status store not configured", nil)
		return
	}

	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	jobs, err := api.jobs.RecentJobs(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.ConversionJob{}
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// List conversions endpoint
func (api *API) listConversions(c *gin.Context) {
	if api.history == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Conversion history not configured", nil)
		return
	}

	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	conversions, err := api.history.ListConversions(c.Request.Context(), limit, offset)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to list conversions", err)
		return
	}
	if conversions == nil {
		conversions = []*models.ConversionResult{}
	}

	c.JSON(http.StatusOK, gin.H{
		"conversions": conversions,
		"limit":       limit,
		"offset":      offset,
	})
}

// Get conversion endpoint
func (api *API) getConversion(c *gin.Context) {
	if api.history == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Conversion history not configured", nil)
		return
	}

	conversion, err := api.history.GetConversion(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrConversionNotFound) {
		abortWithError(c, http.StatusNotFound, "Conversion not found", nil)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to load conversion", err)
		return
	}

	c.JSON(http.StatusOK, conversion)
}

// queryInt reads a non-negative integer query parameter. limit is capped at
// maxPageSize and falls back to def when zero.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	if name == "limit" {
		if n == 0 {
			n = def
		}
		if n > maxPageSize {
			n = maxPageSize
		}
	}
	return n, nil
}

// System status endpoint
func (api *API) systemStatus(c *gin.Context) {
	if api.monitor == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Monitoring not configured", nil)
		return
	}

	alerts := api.monitor.Alerts()
	if alerts == nil {
		alerts = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   api.monitor.Status(),
		"alerts":   alerts,
		"snapshot": api.monitor.Snapshot(),
	})
}
