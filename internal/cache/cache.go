package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

const (
	recentJobsKey = "jobs:recent"
	recentJobsMax = 100
)

// Cache keeps job status in Redis so API callers can follow conversions
// run by other processes
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: cfg.StatusTTL}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SaveJob stores the job's current state. The first save also adds the job
// to the recent jobs list.
func (c *Cache) SaveJob(ctx context.Context, job *models.ConversionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, c.ttl)
	if job.State == models.JobStateDiscovered {
		pipe.LPush(ctx, recentJobsKey, job.ID)
		pipe.LTrim(ctx, recentJobsKey, 0, recentJobsMax-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns the stored job, or nil on a cache miss
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	data, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// RecentJobs returns up to limit of the most recently started jobs that are
// still cached, newest first
func (c *Cache) RecentJobs(ctx context.Context, limit int) ([]*models.ConversionJob, error) {
	if limit <= 0 || limit > recentJobsMax {
		limit = recentJobsMax
	}

	ids, err := c.client.LRange(ctx, recentJobsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}

	jobs := make([]*models.ConversionJob, 0, len(ids))
	for _, id := range ids {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// AcquireLock attempts to take a lock on resource for ttl
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, lockKey(resource), "locked", ttl).Result()
}

// ReleaseLock releases a lock taken with AcquireLock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	return c.client.Del(ctx, lockKey(resource)).Err()
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func lockKey(resource string) string {
	return fmt.Sprintf("lock:%s", resource)
}
