package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// ErrConversionNotFound is returned when no ledger row matches
var ErrConversionNotFound = errors.New("conversion not found")

// Schema creates the conversion ledger
const Schema = `
CREATE TABLE IF NOT EXISTS conversions (
	job_id       TEXT PRIMARY KEY,
	source_key   TEXT NOT NULL,
	base_name    TEXT NOT NULL,
	prefix       TEXT NOT NULL,
	master_key   TEXT NOT NULL,
	master_url   TEXT NOT NULL,
	renditions   TEXT[] NOT NULL,
	uploaded     INTEGER NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conversions_base_name ON conversions (base_name);
CREATE INDEX IF NOT EXISTS idx_conversions_completed_at ON conversions (completed_at DESC);
`

const conversionColumns = `job_id, source_key, base_name, prefix, master_key, master_url, renditions, uploaded, completed_at`

// Repository records finished conversions
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

// Ping checks the underlying database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

// EnsureSchema creates the ledger table if it is missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := r.db.Pool.Exec(ctx, Schema)
	r.logger.LogDatabaseOperation("ensure_schema", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordConversion stores a finished conversion. Recording the same job twice
// overwrites the earlier row.
func (r *Repository) RecordConversion(ctx context.Context, result *models.ConversionResult) error {
	query := `
		INSERT INTO conversions (` + conversionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE
		SET master_url = EXCLUDED.master_url, renditions = EXCLUDED.renditions,
		    uploaded = EXCLUDED.uploaded, completed_at = EXCLUDED.completed_at
	`

	start := time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		result.JobID, result.SourceKey, result.BaseName, result.Prefix, result.MasterKey,
		result.MasterURL, result.Renditions, result.Uploaded, result.CompletedAt,
	)
	r.logger.LogDatabaseOperation("record_conversion", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	return nil
}

// GetConversion retrieves a conversion by job ID
func (r *Repository) GetConversion(ctx context.Context, jobID string) (*models.ConversionResult, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE job_id = $1`
	return r.queryOne(ctx, "get_conversion", query, jobID)
}

// ListConversions returns the most recent conversions, newest first
func (r *Repository) ListConversions(ctx context.Context, limit, offset int) ([]*models.ConversionResult, error) {
	query := `
		SELECT ` + conversionColumns + `
		FROM conversions
		ORDER BY completed_at DESC
		LIMIT $1 OFFSET $2
	`

	start := time.Now()
	results, err := r.list(ctx, query, limit, offset)
	r.logger.LogDatabaseOperation("list_conversions", time.Since(start), err)
	return results, err
}

// LastConversion returns the newest conversion for a base name
func (r *Repository) LastConversion(ctx context.Context, baseName string) (*models.ConversionResult, error) {
	query := `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE base_name = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`
	return r.queryOne(ctx, "last_conversion", query, baseName)
}

// queryOne runs a single-row lookup. A missing row is not logged as a failure.
func (r *Repository) queryOne(ctx context.Context, operation, query string, arg string) (*models.ConversionResult, error) {
	start := time.Now()
	result, err := scanConversion(r.db.Pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.LogDatabaseOperation(operation, time.Since(start), nil)
		return nil, ErrConversionNotFound
	}
	r.logger.LogDatabaseOperation(operation, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}

	return result, nil
}

func (r *Repository) list(ctx context.Context, query string, limit, offset int) ([]*models.ConversionResult, error) {
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var results []*models.ConversionResult
	for rows.Next() {
		result, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func scanConversion(row pgx.Row) (*models.ConversionResult, error) {
	var result models.ConversionResult
	var completedAt time.Time

	err := row.Scan(
		&result.JobID, &result.SourceKey, &result.BaseName, &result.Prefix, &result.MasterKey,
		&result.MasterURL, &result.Renditions, &result.Uploaded, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	result.CompletedAt = completedAt
	return &result, nil
}
