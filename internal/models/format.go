package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FormatOption is one selectable encoding reported by a probe
type FormatOption struct {
	Resolution     string `json:"resolution"`
	Container      string `json:"format"`
	FormatSelector string `json:"format_id"`
	SizeBytes      int64  `json:"size_bytes"`
	SizeEstimated  bool   `json:"size_estimated"`
	Size           string `json:"size"`
}

// ProbeResult is the descriptive metadata of a source URL
type ProbeResult struct {
	Title           string         `json:"title"`
	Thumbnail       string         `json:"thumbnail"`
	Duration        string         `json:"duration"`
	DurationSeconds float64        `json:"duration_seconds"`
	Height          int            `json:"height,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Categories      []string       `json:"categories,omitempty"`
	Description     string         `json:"description,omitempty"`
	Formats         []FormatOption `json:"formats"`
}

// ResolutionForHeight normalises a pixel height into a resolution label
func ResolutionForHeight(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "1440p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	case height >= 240:
		return "240p"
	default:
		return "144p"
	}
}

// ResolutionRank orders resolution labels: audio lowest, 4K highest
func ResolutionRank(label string) int {
	l := strings.TrimSpace(strings.ToLower(label))
	switch l {
	case AudioResolution:
		return -1
	case "4k", "2160p":
		return 2160
	}
	n, err := strconv.Atoi(strings.TrimSuffix(l, "p"))
	if err != nil {
		return 0
	}
	return n
}

// SortFormats sorts formats by descending resolution rank, keeping the
// relative order of equal ranks
func SortFormats(formats []FormatOption) {
	sort.SliceStable(formats, func(i, j int) bool {
		return ResolutionRank(formats[i].Resolution) > ResolutionRank(formats[j].Resolution)
	})
}

// FormatSize renders a byte count the way the history and status views show it
func FormatSize(n int64) string {
	if n <= 0 {
		return "Unknown"
	}
	mb := float64(n) / (1024 * 1024)
	switch {
	case mb < 1:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case mb < 1024:
		return fmt.Sprintf("%.1f MB", mb)
	default:
		return fmt.Sprintf("%.2f GB", mb/1024)
	}
}

// FormatETA renders a remaining duration
func FormatETA(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%d seconds", secs)
	case secs < 3600:
		minutes := secs / 60
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

// FormatDuration renders a media duration as M:SS or H:MM:SS
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return "Unknown"
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
