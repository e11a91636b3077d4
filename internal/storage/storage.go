package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"tasvid/internal/circuitbreaker"
	"tasvid/internal/config"
	"tasvid/internal/metrics"
)

// Provider defines the interface for upload destinations
type Provider interface {
	// PutObject stores body under key and returns where it landed.
	// body is rewound before every retry attempt.
	PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (string, error)

	// HealthCheck performs a lightweight connectivity check
	HealthCheck(ctx context.Context) error
}

// New creates a new storage provider based on configuration
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (Provider, error) {
	switch cfg.StorageType {
	case "s3":
		if cfg.UploadBucket == "" {
			return nil, fmt.Errorf("UPLOAD_BUCKET required for s3 storage")
		}
		return NewS3Provider(ctx, cfg, m, cb)
	case "local":
		if cfg.StoragePath == "" {
			return nil, fmt.Errorf("STORAGE_PATH required for local storage")
		}
		return NewLocalProvider(cfg.StoragePath, m, cb, cfg.StorageMaxRetries, cfg.StorageRetryDelay)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// backoff is retryDelay * 2^(attempt-1)
func backoff(ctx context.Context, retryDelay time.Duration, attempt int) error {
	delay := retryDelay * time.Duration(1<<(attempt-1))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
