package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
)

// LocalStore publishes artifacts into a directory tree instead of a bucket
type LocalStore struct {
	root          string
	publicBaseURL string
	logger        *logging.Logger
}

// NewLocal creates a directory-backed store rooted at dir
func NewLocal(dir, publicBaseURL string, logger *logging.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &LocalStore{
		root:          abs,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Exists reports whether a file is present at key
func (l *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := l.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
}

// PutFile copies a local file to key. The file appears under its final name
// only once fully written.
func (l *LocalStore) PutFile(ctx context.Context, key, filePath string) error {
	start := time.Now()
	size, err := l.copyFile(key, filePath)
	l.observe("put", key, size, start, err)
	return err
}

func (l *LocalStore) copyFile(key, filePath string) (int64, error) {
	dst, err := l.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return written, fmt.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return written, fmt.Errorf("failed to publish %s: %w", key, err)
	}

	return written, nil
}

// Delete removes the file at key. Missing files are not an error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	path, err := l.resolve(key)
	if err == nil {
		if err = os.Remove(path); errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}

	l.observe("delete", key, 0, start, err)
	return err
}

// DeleteAll removes every key, reporting the first failure
func (l *LocalStore) DeleteAll(ctx context.Context, keys []string) error {
	var failed error
	for _, key := range keys {
		if err := l.Delete(ctx, key); err != nil && failed == nil {
			failed = err
		}
	}
	return failed
}

// URL returns where the file is served from
func (l *LocalStore) URL(key string) string {
	if l.publicBaseURL != "" {
		return l.publicBaseURL + "/" + escapeKey(key)
	}
	return "file://" + filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(key)))
}

// resolve maps a key onto a path inside root, rejecting escapes
func (l *LocalStore) resolve(key string) (string, error) {
	path := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return path, nil
}

func (l *LocalStore) observe(operation, key string, size int64, start time.Time, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation("local_"+operation, status, duration.Seconds(), size)
	l.logger.LogStorageOperation(operation, l.root, key, size, duration, err)
}
