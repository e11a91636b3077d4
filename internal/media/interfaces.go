package media

import (
	"context"
	"time"

	"tasvid/internal/models"
)

// Progress statuses reported by a FetchClient
const (
	ProgressDownloading = "downloading"
	ProgressFinished    = "finished"
)

// Progress is one incremental transfer update
type Progress struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
	TotalEstimated  bool
	Speed           float64 // bytes per second, 0 when unknown
	ETA             time.Duration
	Filename        string
}

// FetchOptions describes a single fetch attempt
type FetchOptions struct {
	URL            string
	FormatSelector string
	AudioOnly      bool
	// OutputTemplate is the destination path without extension; the client
	// appends the container extension it produced.
	OutputTemplate string
	CookiesFile    string
	Identity       Identity
}

// FetchClient retrieves metadata and media from the hosting platform.
// Errors are returned already classified as *models.Error.
type FetchClient interface {
	Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error)
	Fetch(ctx context.Context, opts FetchOptions, progress func(Progress)) (string, error)
	Playlist(ctx context.Context, url, cookiesFile string) ([]string, error)
}

// TransformClient re-encodes local media files. Each operation writes out
// and leaves in untouched.
type TransformClient interface {
	Reencode(ctx context.Context, in, out string, crf int) error
	Trim(ctx context.Context, in, out string, start, end float64) error
	AdjustVolume(ctx context.Context, in, out string, factor float64) error
	ExtractAudio(ctx context.Context, in, out, format string, bitrateKbps int) error
}

// Identity is the client fingerprint presented to the platform
type Identity struct {
	UserAgent string
	Proxy     string
}

// IdentityProvider is consulted before every fetch attempt
type IdentityProvider interface {
	Next() Identity
}
