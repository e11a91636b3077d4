package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tasvid/internal/fsutil"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// FileStore keeps the history as a JSON array on disk. The file is re-read
// on every operation and rewritten atomically on every mutation.
type FileStore struct {
	mu      sync.Mutex
	path    string
	metrics *metrics.Metrics
}

// NewFileStore creates a file-backed store at path
func NewFileStore(path string, m *metrics.Metrics) *FileStore {
	return &FileStore{path: path, metrics: m}
}

func (s *FileStore) observe(op string, start time.Time) {
	s.metrics.HistoryOpDuration.WithLabelValues("file", op).Observe(time.Since(start).Seconds())
}

func (s *FileStore) load() ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if _, err := fsutil.ReadJSON(s.path, &entries); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

func (s *FileStore) save(entries []models.HistoryEntry) error {
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	if err := fsutil.WriteJSONAtomic(s.path, entries); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// List returns every entry
func (s *FileStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	defer s.observe("list", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the entry with the given ID
func (s *FileStore) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	defer s.observe("get", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
	}
	return nil, models.NotFound("history entry", id)
}

// Append adds entry to the end of the history
func (s *FileStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	defer s.observe("append", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entry.ID {
			return ErrDuplicate
		}
	}
	return s.save(append(entries, entry))
}

// RewritePath updates entries recorded at oldPath
func (s *FileStore) RewritePath(ctx context.Context, oldPath, newPath string) (int, error) {
	defer s.observe("rewrite_path", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range entries {
		if entries[i].Path == oldPath {
			entries[i].Path = newPath
			entries[i].Title = TitleFromPath(newPath)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save(entries)
}

// Delete removes the entry with the given ID
func (s *FileStore) Delete(ctx context.Context, id string) error {
	defer s.observe("delete", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.ID == id {
			return s.save(append(entries[:i], entries[i+1:]...))
		}
	}
	return models.NotFound("history entry", id)
}

// Clear removes every entry
func (s *FileStore) Clear(ctx context.Context) error {
	defer s.observe("clear", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(nil)
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}
