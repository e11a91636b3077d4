package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tasvid/internal/config"
	"tasvid/internal/events"
	"tasvid/internal/media"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// HistoryAppender receives an entry for every completed download
type HistoryAppender interface {
	Append(ctx context.Context, entry models.HistoryEntry) error
}

// Observer is called with a snapshot after every record change
type Observer func(models.DownloadRecord)

type tracked struct {
	record   models.DownloadRecord
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func (t *tracked) close() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Orchestrator owns the lifecycle of every download from request to
// terminal state
type Orchestrator struct {
	cfg        *config.Config
	fetch      media.FetchClient
	transform  media.TransformClient
	identities media.IdentityProvider
	history    HistoryAppender
	logger     *zap.Logger
	metrics    *metrics.Metrics
	slots      *semaphore.Weighted
	now        func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	downloads map[string]*tracked
	feed      *events.Feed[models.DownloadRecord]
}

// New creates an orchestrator
func New(
	cfg *config.Config,
	fetch media.FetchClient,
	transform media.TransformClient,
	identities media.IdentityProvider,
	history HistoryAppender,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	baseCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		fetch:      fetch,
		transform:  transform,
		identities: identities,
		history:    history,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		baseCtx:    baseCtx,
		stop:       stop,
		downloads:  make(map[string]*tracked),
		feed:       events.NewFeed[models.DownloadRecord](),
	}
	if cfg.MaxActiveDownloads > 0 {
		o.slots = semaphore.NewWeighted(int64(cfg.MaxActiveDownloads))
	}
	return o
}

// Subscribe registers fn for every subsequent record change. Snapshots
// arrive in the order the changes were made.
func (o *Orchestrator) Subscribe(fn Observer) {
	o.feed.Subscribe(fn)
}

// Start validates req, registers a record in starting state and runs the
// download in the background. It returns as soon as the record is visible.
func (o *Orchestrator) Start(req models.DownloadRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate download id: %w", err)
	}

	now := o.now()
	ctx, cancel := context.WithCancel(o.baseCtx)
	t := &tracked{
		record: models.DownloadRecord{
			ID:        id.String(),
			Request:   req,
			Status:    models.StatusStarting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.downloads[t.record.ID] = t
	snapshot := t.record
	o.feed.Publish(snapshot)
	o.mu.Unlock()

	o.logger.Info("download started",
		zap.String("id", snapshot.ID),
		zap.String("url", req.URL),
		zap.String("format", req.FormatSelector),
		zap.String("compression", req.Compression))

	o.wg.Add(1)
	go o.run(ctx, snapshot.ID, req)

	return snapshot.ID, nil
}

// Status returns a snapshot of the record for id
func (o *Orchestrator) Status(id string) (models.DownloadRecord, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	t, ok := o.downloads[id]
	if !ok {
		return models.DownloadRecord{}, models.NotFound("download", id)
	}
	return t.record, nil
}

// List returns snapshots of every tracked record, oldest first
func (o *Orchestrator) List() []models.DownloadRecord {
	o.mu.RLock()
	records := make([]models.DownloadRecord, 0, len(o.downloads))
	for _, t := range o.downloads {
		records = append(records, t.record)
	}
	o.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// Cancel moves a running download to cancelled and aborts its external
// processes. Cancelling a finished download is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	t, ok := o.downloads[id]
	if !ok {
		o.mu.Unlock()
		return models.NotFound("download", id)
	}
	if t.record.Status.IsTerminal() {
		o.mu.Unlock()
		return nil
	}
	now := o.now()
	t.record.Status = models.StatusCancelled
	t.record.UpdatedAt = now
	t.record.FinishedAt = now
	snapshot := t.record
	o.feed.Publish(snapshot)
	o.mu.Unlock()

	t.cancel()
	t.close()

	o.metrics.DownloadsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
	o.logger.Info("download cancelled", zap.String("id", id))
	return nil
}

// Wait blocks until the download reaches a terminal state or ctx is done
func (o *Orchestrator) Wait(ctx context.Context, id string) (models.DownloadRecord, error) {
	o.mu.RLock()
	t, ok := o.downloads[id]
	o.mu.RUnlock()
	if !ok {
		return models.DownloadRecord{}, models.NotFound("download", id)
	}

	select {
	case <-t.done:
		return o.Status(id)
	case <-ctx.Done():
		return models.DownloadRecord{}, ctx.Err()
	}
}

// Done returns a channel closed once the download is terminal
func (o *Orchestrator) Done(id string) (<-chan struct{}, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	t, ok := o.downloads[id]
	if !ok {
		return nil, models.NotFound("download", id)
	}
	return t.done, nil
}

// Run evicts terminal records older than the configured TTL until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	if o.cfg.RecordTTL <= 0 {
		return
	}

	interval := o.cfg.RecordTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Evict(o.now()); n > 0 {
				o.logger.Debug("evicted finished downloads", zap.Int("count", n))
			}
		}
	}
}

// Evict drops terminal records that finished more than RecordTTL before now
func (o *Orchestrator) Evict(now time.Time) int {
	if o.cfg.RecordTTL <= 0 {
		return 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for id, t := range o.downloads {
		if t.record.Status.IsTerminal() && now.Sub(t.record.FinishedAt) > o.cfg.RecordTTL {
			delete(o.downloads, id)
			n++
		}
	}
	return n
}

// Shutdown aborts running downloads and waits for their background work
// to return
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.feed.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, id string, req models.DownloadRequest) {
	defer o.wg.Done()

	if o.slots != nil {
		if err := o.slots.Acquire(ctx, 1); err != nil {
			o.fail(id, err)
			return
		}
		defer o.slots.Release(1)
	}
	o.metrics.ActiveDownloads.Inc()
	defer o.metrics.ActiveDownloads.Dec()

	record, err := o.Status(id)
	if err != nil {
		return
	}

	probe := o.probe(ctx, id, req)
	title := ""
	if probe != nil {
		title = probe.Title
	}
	filename := OutputFilename(title, req.URL, record.CreatedAt)

	outDir := req.OutputDir
	if outDir == "" {
		outDir = o.cfg.VideoDir()
		if req.IsAudio() {
			outDir = o.cfg.AudioDir()
		}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		o.fail(id, models.NewError(models.KindTransientIO, "create output directory", err))
		return
	}
	template := filepath.Join(outDir, filename)

	if !o.mutate(id, func(r *models.DownloadRecord) { r.Filename = filename }) {
		return
	}

	path, err := o.fetchWithRetry(ctx, id, media.FetchOptions{
		URL:            req.URL,
		FormatSelector: req.FormatSelector,
		AudioOnly:      req.IsAudio(),
		OutputTemplate: template,
		CookiesFile:    req.CookiesFile,
	})
	if err != nil {
		o.fail(id, err)
		return
	}

	// checkpoint: after fetch
	if !o.mutate(id, func(r *models.DownloadRecord) {
		r.OutputPath = path
		r.Progress = 100
		if r.Status.CanTransition(models.StatusProcessing) {
			r.Status = models.StatusProcessing
		}
	}) {
		return
	}

	compression, _ := models.ParseCompression(req.Compression)
	if !req.IsAudio() && compression.Enabled() {
		// checkpoint: before transform
		if !o.transition(id, models.StatusCompressing) {
			return
		}
		path = o.compress(ctx, id, path, template, compression.CRF())
		if !o.mutate(id, func(r *models.DownloadRecord) { r.OutputPath = path }) {
			return
		}
	}

	// checkpoint: before history append. Completing first means a
	// concurrent Cancel either wins before this point or becomes a no-op.
	t, ok := o.complete(id)
	if !ok {
		return
	}
	defer t.close()

	entry := o.historyEntry(id, req, probe, path)
	if err := o.history.Append(o.baseCtx, entry); err != nil {
		o.logger.Error("failed to append history entry",
			zap.String("id", id),
			zap.String("path", path),
			zap.Error(err))
	}
}

func (o *Orchestrator) probe(ctx context.Context, id string, req models.DownloadRequest) *models.ProbeResult {
	res, err := o.fetch.Probe(ctx, req.URL, req.CookiesFile)
	if err != nil {
		o.logger.Warn("probe failed, naming file after url",
			zap.String("id", id),
			zap.String("url", req.URL),
			zap.Error(err))
		return nil
	}
	return res
}

// fetchWithRetry runs the fetch, retrying only rate limited attempts after
// a fixed delay with a fresh client identity
func (o *Orchestrator) fetchWithRetry(ctx context.Context, id string, opts media.FetchOptions) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= o.cfg.RateLimitRetries; attempt++ {
		if attempt > 0 {
			o.metrics.FetchRetriesTotal.Inc()
			o.logger.Warn("rate limited, retrying with a different identity",
				zap.String("id", id),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", o.cfg.RateLimitDelay))

			select {
			case <-time.After(o.cfg.RateLimitDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if o.identities != nil {
			opts.Identity = o.identities.Next()
		}

		start := time.Now()
		path, err := o.fetch.Fetch(ctx, opts, func(p media.Progress) { o.onProgress(id, p) })
		o.metrics.FetchDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			o.metrics.FetchAttemptsTotal.WithLabelValues("success").Inc()
			return path, nil
		}

		o.metrics.FetchAttemptsTotal.WithLabelValues(string(models.KindOf(err))).Inc()
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !models.Retryable(err) {
			return "", err
		}
	}

	return "", models.NewError(models.KindRateLimited,
		fmt.Sprintf("still rate limited after %d attempts", o.cfg.RateLimitRetries+1), lastErr)
}

func (o *Orchestrator) onProgress(id string, p media.Progress) {
	o.mutate(id, func(r *models.DownloadRecord) {
		if p.TotalBytes > 0 {
			r.TotalBytes = p.TotalBytes
			r.TotalEstimated = p.TotalEstimated
		}

		if p.Status == media.ProgressFinished {
			if p.DownloadedBytes > 0 {
				r.DownloadedBytes = p.DownloadedBytes
			}
			r.Progress = 100
			r.ETA = 0
			if r.Status.CanTransition(models.StatusProcessing) {
				r.Status = models.StatusProcessing
			}
			return
		}

		if r.Status == models.StatusStarting {
			r.Status = models.StatusDownloading
		}
		r.DownloadedBytes = p.DownloadedBytes
		if r.TotalBytes > 0 {
			r.Progress = min(100, float64(r.DownloadedBytes)/float64(r.TotalBytes)*100)
		}
		r.Speed = p.Speed
		r.ETA = p.ETA
	})
}

// compress re-encodes src and atomically replaces it. Any failure keeps
// src and is only logged.
func (o *Orchestrator) compress(ctx context.Context, id, src, template string, crf int) string {
	tmp := template + "_compressed.mp4"

	if err := o.transform.Reencode(ctx, src, tmp, crf); err != nil {
		os.Remove(tmp)
		o.logger.Warn("compression failed, keeping original file",
			zap.String("id", id),
			zap.String("path", src),
			zap.Int("crf", crf),
			zap.Error(err))
		return src
	}

	final := template + ".mp4"
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		o.logger.Warn("could not replace original with compressed file",
			zap.String("id", id),
			zap.String("path", src),
			zap.Error(err))
		return src
	}
	if final != src {
		os.Remove(src)
	}
	return final
}

func (o *Orchestrator) historyEntry(id string, req models.DownloadRequest, probe *models.ProbeResult, path string) models.HistoryEntry {
	entry := models.HistoryEntry{
		ID:    id,
		Title: "Unknown Title",
		Path:  path,
		Size:  models.FormatSize(0),
		Date:  o.now().Format(models.HistoryDateLayout),
	}
	if probe != nil && probe.Title != "" {
		entry.Title = probe.Title
	}
	if info, err := os.Stat(path); err == nil {
		entry.Size = models.FormatSize(info.Size())
	}

	switch {
	case req.IsAudio():
		entry.Format = "mp3"
		entry.Resolution = models.AudioResolution
	case req.Resolution != "":
		entry.Format = "mp4"
		entry.Resolution = req.Resolution
	case probe != nil && probe.Height > 0:
		entry.Format = "mp4"
		entry.Resolution = models.ResolutionForHeight(probe.Height)
	default:
		entry.Format = "mp4"
		entry.Resolution = "Unknown"
	}
	return entry
}

// mutate applies fn to a non-terminal record. It reports false once the
// record is terminal or gone, which tells the background unit to stop.
func (o *Orchestrator) mutate(id string, fn func(r *models.DownloadRecord)) bool {
	o.mu.Lock()
	t, ok := o.downloads[id]
	if !ok || t.record.Status.IsTerminal() {
		o.mu.Unlock()
		return false
	}
	fn(&t.record)
	t.record.UpdatedAt = o.now()
	snapshot := t.record
	o.feed.Publish(snapshot)
	o.mu.Unlock()

	return true
}

func (o *Orchestrator) transition(id string, next models.Status) bool {
	applied := false
	ok := o.mutate(id, func(r *models.DownloadRecord) {
		if r.Status.CanTransition(next) {
			r.Status = next
			applied = true
		}
	})
	return ok && applied
}

// complete moves the record to completed without releasing waiters, so the
// caller can finish the history append first
func (o *Orchestrator) complete(id string) (*tracked, bool) {
	o.mu.Lock()
	t, ok := o.downloads[id]
	if !ok || !t.record.Status.CanTransition(models.StatusCompleted) {
		o.mu.Unlock()
		return nil, false
	}
	now := o.now()
	t.record.Status = models.StatusCompleted
	t.record.Progress = 100
	t.record.ETA = 0
	t.record.UpdatedAt = now
	t.record.FinishedAt = now
	snapshot := t.record
	o.feed.Publish(snapshot)
	o.mu.Unlock()

	o.metrics.DownloadsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	o.metrics.DownloadedBytes.Observe(float64(snapshot.DownloadedBytes))
	o.logger.Info("download completed",
		zap.String("id", id),
		zap.String("path", snapshot.OutputPath),
		zap.Duration("elapsed", now.Sub(snapshot.CreatedAt)))
	return t, true
}

func (o *Orchestrator) fail(id string, err error) {
	if errors.Is(err, context.Canceled) && o.baseCtx.Err() != nil {
		err = models.NewError(models.KindTransientIO, "interrupted by shutdown", err)
	}

	kind := models.KindOf(err)
	msg := err.Error()
	var classified *models.Error
	if errors.As(err, &classified) {
		msg = classified.Message
	}

	o.mu.Lock()
	t, ok := o.downloads[id]
	if !ok || t.record.Status.IsTerminal() {
		o.mu.Unlock()
		return
	}
	now := o.now()
	t.record.Status = models.StatusError
	t.record.Error = &models.FailureDetail{
		Kind:        kind,
		Message:     msg,
		UserMessage: models.UserMessage(kind),
	}
	t.record.UpdatedAt = now
	t.record.FinishedAt = now
	snapshot := t.record
	o.feed.Publish(snapshot)
	o.mu.Unlock()

	t.close()

	o.metrics.DownloadsTotal.WithLabelValues(string(models.StatusError)).Inc()
	o.logger.Error("download failed",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.Error(err))
}
