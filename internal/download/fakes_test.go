package download

import (
	"context"
	"os"
	"sync"

	"tasvid/internal/media"
	"tasvid/internal/models"
)

type fakeFetch struct {
	mu       sync.Mutex
	probe    *models.ProbeResult
	probeErr error
	// fetch runs for every attempt; nil writes an mp4 and succeeds
	fetch    func(ctx context.Context, attempt int, opts media.FetchOptions, progress func(media.Progress)) (string, error)
	attempts []media.FetchOptions
}

func (f *fakeFetch) Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error) {
	return f.probe, f.probeErr
}

func (f *fakeFetch) Fetch(ctx context.Context, opts media.FetchOptions, progress func(media.Progress)) (string, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, opts)
	attempt := len(f.attempts) - 1
	f.mu.Unlock()

	if f.fetch != nil {
		return f.fetch(ctx, attempt, opts, progress)
	}
	return writeFetched(opts, progress)
}

func (f *fakeFetch) Playlist(ctx context.Context, url, cookiesFile string) ([]string, error) {
	return nil, models.ValidationError("no videos found in playlist")
}

func (f *fakeFetch) Attempts() []media.FetchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.FetchOptions(nil), f.attempts...)
}

func writeFetched(opts media.FetchOptions, progress func(media.Progress)) (string, error) {
	ext := ".mp4"
	if opts.AudioOnly {
		ext = ".mp3"
	}
	path := opts.OutputTemplate + ext
	data := []byte("original media bytes")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	progress(media.Progress{Status: media.ProgressDownloading, DownloadedBytes: 10, TotalBytes: int64(len(data))})
	progress(media.Progress{Status: media.ProgressFinished, DownloadedBytes: int64(len(data)), TotalBytes: int64(len(data))})
	return path, nil
}

type fakeTransform struct {
	mu       sync.Mutex
	err      error
	reencode []int
}

func (f *fakeTransform) Reencode(ctx context.Context, in, out string, crf int) error {
	f.mu.Lock()
	f.reencode = append(f.reencode, crf)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("small"), 0644)
}

func (f *fakeTransform) Trim(ctx context.Context, in, out string, start, end float64) error {
	return nil
}

func (f *fakeTransform) AdjustVolume(ctx context.Context, in, out string, factor float64) error {
	return nil
}

func (f *fakeTransform) ExtractAudio(ctx context.Context, in, out, format string, bitrateKbps int) error {
	return nil
}

func (f *fakeTransform) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reencode...)
}

type memHistory struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
}

func (h *memHistory) Append(ctx context.Context, e models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *memHistory) Entries() []models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.HistoryEntry(nil), h.entries...)
}

type countingIdentity struct {
	mu sync.Mutex
	n  int
}

func (c *countingIdentity) Next() media.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return media.Identity{UserAgent: "agent-" + string(rune('a'+c.n-1))}
}
