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

	"tasvid/internal/circuitbreaker"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// LocalProvider mirrors uploads into a directory, typically a mounted
// network share
type LocalProvider struct {
	basePath       string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	maxRetries     int
	retryDelay     time.Duration
}

// NewLocalProvider creates a new local filesystem storage provider
func NewLocalProvider(basePath string, m *metrics.Metrics, cb *circuitbreaker.Breaker, maxRetries int, retryDelay time.Duration) (*LocalProvider, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return &LocalProvider{
		basePath:       absPath,
		circuitBreaker: cb,
		metrics:        m,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
	}, nil
}

// resolve maps key into basePath, rejecting keys that escape it
func (l *LocalProvider) resolve(key string) (string, error) {
	fullPath := filepath.Clean(filepath.Join(l.basePath, key))
	if fullPath == l.basePath || !strings.HasPrefix(fullPath, l.basePath+string(filepath.Separator)) {
		return "", models.ValidationError("path traversal attempt detected: key=%s", key)
	}
	return fullPath, nil
}

// PutObject copies body to basePath/key through a temp file
func (l *LocalProvider) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (string, error) {
	start := time.Now()
	resultLabel := "error"
	defer func() {
		l.metrics.StorageDuration.WithLabelValues("local", resultLabel).Observe(time.Since(start).Seconds())
		l.metrics.UploadsTotal.WithLabelValues(resultLabel).Inc()
	}()

	fullPath, err := l.resolve(key)
	if err != nil {
		return "", err
	}

	result, err := l.circuitBreaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= l.maxRetries; attempt++ {
			if attempt > 0 {
				if err := backoff(ctx, l.retryDelay, attempt); err != nil {
					return nil, err
				}
			}

			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind upload body: %w", err)
			}

			written, err := l.write(fullPath, body)
			if err == nil {
				if size > 0 && written != size {
					return nil, fmt.Errorf("short write: %d of %d bytes", written, size)
				}
				return fullPath, nil
			}

			lastErr = err
			if !isLocalRetryableError(err) {
				break
			}
		}
		return nil, fmt.Errorf("failed to write file: %w", lastErr)
	})
	if err != nil {
		return "", err
	}

	resultLabel = "success"
	return result.(string), nil
}

func (l *LocalProvider) write(fullPath string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	counter := &models.ByteCounter{Writer: tmp}
	if _, err := io.Copy(counter, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return counter.Count, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return counter.Count, err
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return counter.Count, err
	}
	return counter.Count, nil
}

// isLocalRetryableError determines if a local filesystem error should trigger a retry
func isLocalRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if os.IsPermission(err) {
		return false
	}

	// network filesystems fail transiently
	return true
}

// HealthCheck verifies the base path is still accessible
func (l *LocalProvider) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("base path unavailable: %w", err)
	}
	return nil
}
