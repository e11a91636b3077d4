package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tasvid/internal/config"
	"tasvid/internal/fsutil"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// Starter hands a due request to the orchestrator
type Starter interface {
	Start(req models.DownloadRequest) (string, error)
}

// fileEntry is the on-disk shape: request fields flattened next to the
// fire-at time. Older files carry zone-less times, so the time stays a
// string until load parses it.
type fileEntry struct {
	models.DownloadRequest
	ScheduledTime string `json:"scheduled_time"`
}

// Scheduler holds deferred downloads in a durable file and promotes them
// once they are due
type Scheduler struct {
	path     string
	starter  Starter
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]models.ScheduleEntry
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock used by Run
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler and recovers pending entries from cfg.ScheduleFile
func New(cfg *config.Config, starter Starter, logger *zap.Logger, m *metrics.Metrics, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		path:     cfg.ScheduleFile,
		starter:  starter,
		interval: cfg.SchedulePollInterval,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]models.ScheduleEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.metrics.ScheduledPending.Set(float64(len(s.entries)))
	return s, nil
}

func (s *Scheduler) load() error {
	raw := make(map[string]fileEntry)
	found, err := fsutil.ReadJSON(s.path, &raw)
	if err != nil {
		return fmt.Errorf("load scheduled downloads: %w", err)
	}
	if !found {
		return nil
	}

	for id, fe := range raw {
		fireAt, err := models.ParseFireTime(fe.ScheduledTime)
		if err != nil {
			return fmt.Errorf("load scheduled downloads: entry %s: %w", id, err)
		}
		s.entries[id] = models.ScheduleEntry{
			ID:      id,
			Request: fe.DownloadRequest,
			FireAt:  fireAt.UTC(),
		}
	}
	s.logger.Info("recovered scheduled downloads",
		zap.String("path", s.path),
		zap.Int("count", len(s.entries)))
	return nil
}

// persist must be called with mu held
func (s *Scheduler) persist() error {
	raw := make(map[string]fileEntry, len(s.entries))
	for id, e := range s.entries {
		raw[id] = fileEntry{DownloadRequest: e.Request, ScheduledTime: e.FireAt.UTC().Format(time.RFC3339Nano)}
	}
	if err := fsutil.WriteJSONAtomic(s.path, raw); err != nil {
		return fmt.Errorf("save scheduled downloads: %w", err)
	}
	s.metrics.ScheduledPending.Set(float64(len(s.entries)))
	return nil
}

// Schedule stores req to be started at fireAt
func (s *Scheduler) Schedule(req models.DownloadRequest, fireAt time.Time) (models.ScheduleEntry, error) {
	if err := req.Validate(); err != nil {
		return models.ScheduleEntry{}, err
	}
	if fireAt.IsZero() {
		return models.ScheduleEntry{}, models.ValidationError("scheduled_time is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("generate schedule id: %w", err)
	}
	entry := models.ScheduleEntry{ID: id.String(), Request: req, FireAt: fireAt.UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.ID] = entry
	if err := s.persist(); err != nil {
		delete(s.entries, entry.ID)
		return models.ScheduleEntry{}, err
	}

	s.logger.Info("download scheduled",
		zap.String("schedule_id", entry.ID),
		zap.String("url", req.URL),
		zap.Time("fire_at", entry.FireAt))
	return entry, nil
}

// Cancel removes a pending entry
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return models.NotFound("scheduled download", id)
	}
	delete(s.entries, id)
	if err := s.persist(); err != nil {
		s.entries[id] = entry
		return err
	}

	s.logger.Info("scheduled download cancelled", zap.String("schedule_id", id))
	return nil
}

// List returns the pending entries ordered by fire-at time
func (s *Scheduler) List() []models.ScheduleEntry {
	s.mu.Lock()
	out := make([]models.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Run promotes due entries every poll interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Tick starts every entry due at now and returns how many were promoted.
// Due entries leave the durable file before they are started, so each is
// promoted at most once even across restarts.
func (s *Scheduler) Tick(now time.Time) int {
	now = now.UTC()

	s.mu.Lock()
	var due []models.ScheduleEntry
	for id, e := range s.entries {
		if !now.Before(e.FireAt) {
			due = append(due, e)
			delete(s.entries, id)
		}
	}
	if len(due) == 0 {
		s.mu.Unlock()
		return 0
	}
	if err := s.persist(); err != nil {
		for _, e := range due {
			s.entries[e.ID] = e
		}
		s.mu.Unlock()
		s.logger.Error("could not persist schedule, postponing due downloads",
			zap.Int("due", len(due)),
			zap.Error(err))
		return 0
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	for _, e := range due {
		id, err := s.starter.Start(e.Request)
		if err != nil {
			s.logger.Error("scheduled download failed to start",
				zap.String("schedule_id", e.ID),
				zap.String("url", e.Request.URL),
				zap.Error(err))
			continue
		}
		s.metrics.ScheduledPromoted.Inc()
		s.logger.Info("scheduled download started",
			zap.String("schedule_id", e.ID),
			zap.String("download_id", id),
			zap.Time("fire_at", e.FireAt))
	}
	return len(due)
}
