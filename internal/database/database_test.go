package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"tasvid/internal/config"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// fakeStore is a minimal implementation of Store for testing New.
// It never hits a real database.
type fakeStore struct {
	name string
}

func (f *fakeStore) List(ctx context.Context) ([]models.HistoryEntry, error) { return nil, nil }
func (f *fakeStore) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) Append(ctx context.Context, entry models.HistoryEntry) error { return nil }
func (f *fakeStore) RewritePath(ctx context.Context, oldPath, newPath string) (int, error) {
	return 0, nil
}
func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeStore) Clear(ctx context.Context) error             { return nil }
func (f *fakeStore) Close() error                                { return nil }

func newTestConfig(engine string) *config.Config {
	return &config.Config{
		HistoryEngine: engine,
	}
}

func TestNew_Dispatch(t *testing.T) {
	tests := []struct {
		engine string
		swap   func(fn func() Store) func()
	}{
		{
			engine: "postgres",
			swap: func(fn func() Store) func() {
				orig := newPostgresStoreFunc
				newPostgresStoreFunc = func(context.Context, *config.Config, *metrics.Metrics) (Store, error) { return fn(), nil }
				return func() { newPostgresStoreFunc = orig }
			},
		},
		{
			engine: "mysql",
			swap: func(fn func() Store) func() {
				orig := newMySQLStoreFunc
				newMySQLStoreFunc = func(context.Context, *config.Config, *metrics.Metrics) (Store, error) { return fn(), nil }
				return func() { newMySQLStoreFunc = orig }
			},
		},
		{
			engine: "redis",
			swap: func(fn func() Store) func() {
				orig := newRedisStoreFunc
				newRedisStoreFunc = func(context.Context, *config.Config, *metrics.Metrics) (Store, error) { return fn(), nil }
				return func() { newRedisStoreFunc = orig }
			},
		},
		{
			engine: "file",
			swap: func(fn func() Store) func() {
				orig := newFileStoreFunc
				newFileStoreFunc = func(*config.Config, *metrics.Metrics) (Store, error) { return fn(), nil }
				return func() { newFileStoreFunc = orig }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			called := false
			expected := &fakeStore{name: tt.engine}
			restore := tt.swap(func() Store {
				called = true
				return expected
			})
			defer restore()

			store, err := New(context.Background(), newTestConfig(tt.engine), metrics.New())
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			if !called {
				t.Fatalf("expected %s constructor to be called", tt.engine)
			}
			if store != expected {
				t.Fatalf("expected store %v, got %v", expected, store)
			}
		})
	}
}

func TestNew_DefaultsToFileStore(t *testing.T) {
	cfg := &config.Config{
		DataDir:    t.TempDir(),
		HistoryURL: "",
	}

	store, err := New(context.Background(), cfg, metrics.New())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
	if fs.path != filepath.Join(cfg.DataDir, "download_history.json") {
		t.Errorf("unexpected file path %q", fs.path)
	}
}

func TestNew_UnsupportedEngine(t *testing.T) {
	store, err := New(context.Background(), newTestConfig("sqlite"), metrics.New())
	if err == nil {
		t.Fatalf("expected error for unsupported engine, got nil")
	}
	if store != nil {
		t.Fatalf("expected nil store for unsupported engine, got %#v", store)
	}
	if !strings.Contains(err.Error(), "unsupported history engine") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestTitleFromPath(t *testing.T) {
	if got := TitleFromPath("/dl/videos/My Clip_20260101_120000.mp4"); got != "My Clip_20260101_120000" {
		t.Errorf("TitleFromPath() = %q", got)
	}
}
