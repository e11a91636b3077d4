package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// Shared metrics instance to avoid duplicate Prometheus registration
var sharedMetrics = metrics.New()

type fakeDownloads struct {
	mu      sync.Mutex
	records map[string]models.DownloadRecord
	started []models.DownloadRequest
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{records: make(map[string]models.DownloadRecord)}
}

func (f *fakeDownloads) Start(req models.DownloadRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	id := "dl-" + string(rune('0'+len(f.started)))
	f.records[id] = models.DownloadRecord{ID: id, Request: req, Status: models.StatusStarting}
	return id, nil
}

func (f *fakeDownloads) Status(id string) (models.DownloadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return models.DownloadRecord{}, models.NotFound("download", id)
	}
	return r, nil
}

func (f *fakeDownloads) List() []models.DownloadRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DownloadRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeDownloads) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return models.NotFound("download", id)
	}
	if !r.Status.IsTerminal() {
		r.Status = models.StatusCancelled
		f.records[id] = r
	}
	return nil
}

type fakeBatches struct {
	submitted [][]string
	playlist  []string
	err       error
}

func (f *fakeBatches) Submit(urls []string, req models.DownloadRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(urls) == 0 {
		return "", models.ValidationError("no URLs provided")
	}
	f.submitted = append(f.submitted, urls)
	return "batch-1", nil
}

func (f *fakeBatches) SubmitPlaylist(ctx context.Context, playlistURL string, req models.DownloadRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, f.playlist)
	return "batch-1", nil
}

func (f *fakeBatches) Status(id string) (models.BatchRecord, error) {
	if id != "batch-1" || len(f.submitted) == 0 {
		return models.BatchRecord{}, models.NotFound("batch", id)
	}
	urls := f.submitted[len(f.submitted)-1]
	return models.BatchRecord{
		ID:        id,
		URLs:      urls,
		Status:    models.BatchProcessing,
		Total:     len(urls),
		Completed: 1,
	}, nil
}

type fakeSchedules struct {
	entries []models.ScheduleEntry
}

func (f *fakeSchedules) Schedule(req models.DownloadRequest, fireAt time.Time) (models.ScheduleEntry, error) {
	if err := req.Validate(); err != nil {
		return models.ScheduleEntry{}, err
	}
	e := models.ScheduleEntry{ID: "sched-1", Request: req, FireAt: fireAt.UTC()}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeSchedules) Cancel(id string) error {
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return models.NotFound("scheduled download", id)
}

func (f *fakeSchedules) List() []models.ScheduleEntry {
	return append([]models.ScheduleEntry(nil), f.entries...)
}

type fakeHistory struct {
	entries []models.HistoryEntry
	err     error
}

func (f *fakeHistory) List(ctx context.Context) ([]models.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.HistoryEntry(nil), f.entries...), nil
}

func (f *fakeHistory) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, e := range f.entries {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, models.NotFound("history entry", id)
}

func (f *fakeHistory) Delete(ctx context.Context, id string) error {
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return models.NotFound("history entry", id)
}

func (f *fakeHistory) Clear(ctx context.Context) error {
	f.entries = nil
	return nil
}

type organizeCall struct {
	path string
	info *models.ProbeResult
	mode string
}

type fakeEditor struct {
	probe     *models.ProbeResult
	err       error
	organized []organizeCall
}

func (f *fakeEditor) Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if url == "" {
		return nil, models.ValidationError("url is required")
	}
	return f.probe, nil
}

func (f *fakeEditor) Trim(ctx context.Context, path, start, end string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return path + ".trimmed", nil
}

func (f *fakeEditor) AdjustVolume(ctx context.Context, path string, factor float64) (string, error) {
	if factor <= 0 {
		return "", models.ValidationError("volume factor must be positive")
	}
	return path + ".volume", nil
}

func (f *fakeEditor) ExtractAudio(ctx context.Context, path, format string, bitrateKbps int) (string, error) {
	return path + "." + format, nil
}

func (f *fakeEditor) Rename(ctx context.Context, path, newName string) (string, error) {
	return newName, nil
}

func (f *fakeEditor) Organize(ctx context.Context, path string, info *models.ProbeResult, mode string) (string, string, error) {
	f.organized = append(f.organized, organizeCall{path: path, info: info, mode: mode})
	return "Categories/music/" + path, "music", nil
}

func (f *fakeEditor) Upload(ctx context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "s3://media/" + path, nil
}

var errBackend = errors.New("connection refused")
