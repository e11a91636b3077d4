package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tasvid/internal/config"
	"tasvid/internal/events"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// Downloader is the part of the orchestrator a batch drives
type Downloader interface {
	Start(req models.DownloadRequest) (string, error)
	Status(id string) (models.DownloadRecord, error)
}

// PlaylistExpander resolves a playlist URL into its entry URLs
type PlaylistExpander interface {
	Playlist(ctx context.Context, url, cookiesFile string) ([]string, error)
}

// Observer is called with a snapshot after every batch change
type Observer func(models.BatchRecord)

type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeFailed    outcome = "failed"
	outcomeTimeout   outcome = "timeout"
)

type tracked struct {
	record models.BatchRecord
	done   chan struct{}
}

// Coordinator fans a list of URLs out to the orchestrator and aggregates
// the member outcomes
type Coordinator struct {
	downloads    Downloader
	playlists    PlaylistExpander
	pollInterval time.Duration
	maxPolls     int
	parallel     int
	logger       *zap.Logger
	metrics      *metrics.Metrics

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	batches map[string]*tracked
	feed    *events.Feed[models.BatchRecord]
}

// New creates a batch coordinator
func New(cfg *config.Config, downloads Downloader, playlists PlaylistExpander, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	baseCtx, stop := context.WithCancel(context.Background())

	c := &Coordinator{
		downloads:    downloads,
		playlists:    playlists,
		pollInterval: cfg.BatchPollInterval,
		maxPolls:     cfg.BatchMaxPolls,
		parallel:     cfg.BatchParallel,
		logger:       logger,
		metrics:      m,
		baseCtx:      baseCtx,
		stop:         stop,
		batches:      make(map[string]*tracked),
		feed:         events.NewFeed[models.BatchRecord](),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.maxPolls <= 0 {
		c.maxPolls = 600
	}
	if c.parallel <= 0 {
		c.parallel = 1
	}
	return c
}

// Subscribe registers fn for every subsequent batch change. Snapshots
// arrive in the order the changes were made.
func (c *Coordinator) Subscribe(fn Observer) {
	c.feed.Subscribe(fn)
}

// Submit registers a batch for urls sharing req and drives it in the
// background. Blank URLs are dropped; an empty list is rejected.
func (c *Coordinator) Submit(urls []string, req models.DownloadRequest) (string, error) {
	members := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			members = append(members, u)
		}
	}
	if len(members) == 0 {
		return "", models.ValidationError("at least one url is required")
	}
	if strings.TrimSpace(req.FormatSelector) == "" {
		return "", models.ValidationError("format_id is required")
	}
	if _, err := models.ParseCompression(req.Compression); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}

	req.URL = ""
	t := &tracked{
		record: models.BatchRecord{
			ID:        id.String(),
			URLs:      members,
			Request:   req,
			Status:    models.BatchStarting,
			Total:     len(members),
			Downloads: make(map[string]models.BatchMember),
			CreatedAt: time.Now(),
		},
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.batches[t.record.ID] = t
	c.mu.Unlock()

	c.metrics.BatchesTotal.Inc()
	c.logger.Info("batch submitted",
		zap.String("batch_id", t.record.ID),
		zap.Int("total", len(members)),
		zap.Int("parallel", c.parallel))

	c.wg.Add(1)
	go c.drive(t.record.ID, members, req)

	return t.record.ID, nil
}

// SubmitPlaylist expands playlistURL and submits its entries as a batch
func (c *Coordinator) SubmitPlaylist(ctx context.Context, playlistURL string, req models.DownloadRequest) (string, error) {
	if strings.TrimSpace(playlistURL) == "" {
		return "", models.ValidationError("playlist url is required")
	}
	urls, err := c.playlists.Playlist(ctx, playlistURL, req.CookiesFile)
	if err != nil {
		return "", err
	}
	return c.Submit(urls, req)
}

// Status returns a snapshot of the batch
func (c *Coordinator) Status(id string) (models.BatchRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.batches[id]
	if !ok {
		return models.BatchRecord{}, models.NotFound("batch", id)
	}
	return snapshot(t.record), nil
}

// List returns snapshots of every batch, oldest first
func (c *Coordinator) List() []models.BatchRecord {
	c.mu.RLock()
	out := make([]models.BatchRecord, 0, len(c.batches))
	for _, t := range c.batches {
		out = append(out, snapshot(t.record))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until the batch is completed or ctx is done
func (c *Coordinator) Wait(ctx context.Context, id string) (models.BatchRecord, error) {
	c.mu.RLock()
	t, ok := c.batches[id]
	c.mu.RUnlock()
	if !ok {
		return models.BatchRecord{}, models.NotFound("batch", id)
	}

	select {
	case <-t.done:
		return c.Status(id)
	case <-ctx.Done():
		return models.BatchRecord{}, ctx.Err()
	}
}

// Shutdown stops every batch driver. Unfinished batches keep their counters.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.feed.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) drive(id string, urls []string, req models.DownloadRequest) {
	defer c.wg.Done()
	c.metrics.ActiveBatches.Inc()
	defer c.metrics.ActiveBatches.Dec()

	ctx := c.baseCtx
	c.update(id, func(b *models.BatchRecord) { b.Status = models.BatchProcessing })

	// a single slot keeps members in submission order
	slots := semaphore.NewWeighted(int64(c.parallel))
	var members sync.WaitGroup

	for _, u := range urls {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		members.Add(1)
		go func(u string) {
			defer members.Done()
			defer slots.Release(1)
			c.runMember(ctx, id, u, req)
		}(u)
	}
	members.Wait()

	if ctx.Err() != nil {
		c.logger.Warn("batch interrupted", zap.String("batch_id", id))
		return
	}

	c.update(id, func(b *models.BatchRecord) { b.Status = models.BatchCompleted })

	c.mu.RLock()
	t := c.batches[id]
	rec := t.record
	c.mu.RUnlock()
	close(t.done)

	c.logger.Info("batch completed",
		zap.String("batch_id", id),
		zap.Int("completed", rec.Completed),
		zap.Int("failed", rec.Failed))
}

func (c *Coordinator) runMember(ctx context.Context, id, url string, req models.DownloadRequest) {
	c.update(id, func(b *models.BatchRecord) { b.InProgress++ })

	req.URL = url
	handle, err := c.downloads.Start(req)
	if err != nil {
		c.logger.Warn("batch member failed to start",
			zap.String("batch_id", id),
			zap.String("url", url),
			zap.Error(err))
		c.settle(id, outcomeFailed)
		return
	}

	c.update(id, func(b *models.BatchRecord) {
		b.Downloads[handle] = models.BatchMember{URL: url, Status: models.StatusStarting}
	})

	result, ok := c.await(ctx, id, handle)
	if !ok {
		return
	}
	if result == outcomeTimeout {
		c.logger.Warn("batch member timed out",
			zap.String("batch_id", id),
			zap.String("download_id", handle),
			zap.Duration("waited", time.Duration(c.maxPolls)*c.pollInterval))
	}
	c.settle(id, result)
}

// await polls the member until it is terminal or the poll budget runs out.
// It reports false only when the batch is interrupted.
func (c *Coordinator) await(ctx context.Context, id, handle string) (outcome, bool) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for polls := 0; ; polls++ {
		rec, err := c.downloads.Status(handle)
		if err != nil {
			return outcomeFailed, true
		}

		c.update(id, func(b *models.BatchRecord) {
			m := b.Downloads[handle]
			m.Status = rec.Status
			b.Downloads[handle] = m
		})

		switch rec.Status {
		case models.StatusCompleted:
			return outcomeCompleted, true
		case models.StatusError, models.StatusCancelled:
			return outcomeFailed, true
		}

		if polls >= c.maxPolls {
			return outcomeTimeout, true
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) settle(id string, result outcome) {
	c.update(id, func(b *models.BatchRecord) {
		b.InProgress--
		if result == outcomeCompleted {
			b.Completed++
		} else {
			b.Failed++
		}
	})
	c.metrics.BatchMembersTotal.WithLabelValues(string(result)).Inc()
}

func (c *Coordinator) update(id string, fn func(b *models.BatchRecord)) {
	c.mu.Lock()
	t, ok := c.batches[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	fn(&t.record)
	c.feed.Publish(snapshot(t.record))
	c.mu.Unlock()
}

func snapshot(b models.BatchRecord) models.BatchRecord {
	b.URLs = append([]string(nil), b.URLs...)
	members := make(map[string]models.BatchMember, len(b.Downloads))
	for k, v := range b.Downloads {
		members[k] = v
	}
	b.Downloads = members
	return b
}
