package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"tasvid/internal/config"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// ErrDuplicate is returned by Append when an entry with the same ID exists
var ErrDuplicate = errors.New("history entry already exists")

// Store is the durable download history. Entries are listed in the order
// they were appended.
type Store interface {
	List(ctx context.Context) ([]models.HistoryEntry, error)
	Get(ctx context.Context, id string) (*models.HistoryEntry, error)
	Append(ctx context.Context, entry models.HistoryEntry) error
	// RewritePath points every entry at oldPath to newPath and retitles it
	// after the new file name. It returns the number of entries changed.
	RewritePath(ctx context.Context, oldPath, newPath string) (int, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// These indirection variables allow tests to override the concrete
// store constructors so we can exercise New(...) without real DBs.
var (
	newFileStoreFunc = func(cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewFileStore(cfg.HistoryFilePath(), m), nil
	}
	newPostgresStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewPostgresStore(ctx, cfg, m)
	}
	newMySQLStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewMySQLStore(ctx, cfg, m)
	}
	newRedisStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewRedisStore(ctx, cfg, m)
	}
)

// New creates a history store based on the configured engine
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	switch cfg.HistoryEngine {
	case "", "file":
		return newFileStoreFunc(cfg, m)
	case "postgres", "postgresql":
		return newPostgresStoreFunc(ctx, cfg, m)
	case "mysql":
		return newMySQLStoreFunc(ctx, cfg, m)
	case "redis", "rediss":
		return newRedisStoreFunc(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unsupported history engine: %s", cfg.HistoryEngine)
	}
}

// TitleFromPath is the title recorded for a renamed or moved file
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
