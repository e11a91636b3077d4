package models

import (
	"io"
	"net/url"
	"strings"
	"time"
)

// AudioResolution marks an audio-only request
const AudioResolution = "audio"

// DownloadRequest holds the parameters of a single download
type DownloadRequest struct {
	URL            string `json:"url"`
	FormatSelector string `json:"format_id"`
	Resolution     string `json:"resolution"`
	Compression    string `json:"compression"`
	OutputDir      string `json:"download_dir,omitempty"`
	CookiesFile    string `json:"cookies_file,omitempty"`
}

// IsAudio reports whether only the audio track is requested
func (r DownloadRequest) IsAudio() bool {
	return strings.EqualFold(r.Resolution, AudioResolution)
}

// Validate checks the required fields
func (r DownloadRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return ValidationError("url is required")
	}
	if strings.TrimSpace(r.FormatSelector) == "" {
		return ValidationError("format_id is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError("url must be an absolute http(s) URL")
	}
	if _, err := ParseCompression(r.Compression); err != nil {
		return err
	}
	return nil
}

// FailureDetail is the captured error of a failed download
type FailureDetail struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
}

// DownloadRecord is a point-in-time snapshot of one download
type DownloadRecord struct {
	ID              string          `json:"id"`
	Request         DownloadRequest `json:"request"`
	Status          Status          `json:"status"`
	Progress        float64         `json:"progress"`
	DownloadedBytes int64           `json:"downloaded_bytes"`
	TotalBytes      int64           `json:"total_bytes"`
	TotalEstimated  bool            `json:"total_estimated"`
	Speed           float64         `json:"speed"` // bytes per second
	ETA             time.Duration   `json:"eta"`
	Filename        string          `json:"filename"`
	OutputPath      string          `json:"output_path,omitempty"`
	Error           *FailureDetail  `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinishedAt      time.Time       `json:"finished_at,omitempty"`
}

// Size is the human-readable total, marked when only an estimate is known
func (r DownloadRecord) Size() string {
	if r.TotalBytes <= 0 {
		return "Calculating..."
	}
	if r.TotalEstimated {
		return FormatSize(r.TotalBytes) + " (est.)"
	}
	return FormatSize(r.TotalBytes)
}

// SpeedText is the transfer rate, derived from elapsed time when the fetch
// client did not report one
func (r DownloadRecord) SpeedText(now time.Time) string {
	speed := r.Speed
	if speed <= 0 && r.DownloadedBytes > 0 {
		if elapsed := now.Sub(r.CreatedAt).Seconds(); elapsed > 0 {
			speed = float64(r.DownloadedBytes) / elapsed
		}
	}
	if speed <= 0 {
		return "0 KB/s"
	}
	return FormatSize(int64(speed)) + "/s"
}

// ETAText is the estimated remaining time
func (r DownloadRecord) ETAText() string {
	if r.ETA <= 0 {
		return "Unknown"
	}
	return FormatETA(r.ETA)
}

// DownloadView is a record with its human-readable progress fields
type DownloadView struct {
	DownloadRecord
	DisplaySize  string `json:"size"`
	DisplaySpeed string `json:"speed_text"`
	DisplayETA   string `json:"eta_text"`
}

// View renders r for display at now
func (r DownloadRecord) View(now time.Time) DownloadView {
	return DownloadView{
		DownloadRecord: r,
		DisplaySize:    r.Size(),
		DisplaySpeed:   r.SpeedText(now),
		DisplayETA:     r.ETAText(),
	}
}

// BatchMember is the last observed state of one batch entry
type BatchMember struct {
	URL    string `json:"url"`
	Status Status `json:"status"`
}

// BatchRecord is a snapshot of a batch of downloads
type BatchRecord struct {
	ID         string                 `json:"id"`
	URLs       []string               `json:"urls"`
	Request    DownloadRequest        `json:"request"`
	Status     BatchStatus            `json:"status"`
	Total      int                    `json:"total"`
	Completed  int                    `json:"completed"`
	Failed     int                    `json:"failed"`
	InProgress int                    `json:"in_progress"`
	Downloads  map[string]BatchMember `json:"downloads"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NotStarted is the number of members not yet handed to the orchestrator
func (b BatchRecord) NotStarted() int {
	return b.Total - b.Completed - b.Failed - b.InProgress
}

// ScheduleEntry is a deferred download
type ScheduleEntry struct {
	ID      string          `json:"id"`
	Request DownloadRequest `json:"request"`
	FireAt  time.Time       `json:"scheduled_time"`
}

// zone-less layouts, as browsers (datetime-local) and Python isoformat write them
var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseFireTime reads a schedule time. RFC 3339 values keep their offset;
// zone-less values are taken as server local time.
func ParseFireTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ValidationError("scheduled_time is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ValidationError("invalid scheduled_time %q", s)
}

// HistoryEntry records one completed download
type HistoryEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Format     string `json:"format"`
	Resolution string `json:"resolution"`
	Size       string `json:"size"`
	Path       string `json:"path"`
	Date       string `json:"date"`
}

// HistoryDateLayout is the layout of HistoryEntry.Date
const HistoryDateLayout = "2006-01-02 15:04:05"

// ByteCounter wraps an io.Writer and counts bytes written
type ByteCounter struct {
	Writer io.Writer
	Count  int64
}

func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.Writer.Write(p)
	bc.Count += int64(n)
	return n, err
}
