package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tasvid/internal/models"
)

const (
	progressPrefix   = "[tasvid-progress]"
	audioSelector    = "bestaudio/best"
	audioCodec       = "mp3"
	audioQualityKbps = 192
	probeTimeout     = 2 * time.Minute
)

// estimate bitrates in kbps, keyed by resolution label
var estimateBitrates = map[string]float64{
	models.AudioResolution: 160,
	"144p":                 100,
	"240p":                 300,
	"360p":                 500,
	"480p":                 800,
	"720p":                 1500,
	"1080p":                3000,
	"1440p":                6000,
	"4K":                   12000,
}

// execCommand is overridable in tests
var execCommand = exec.CommandContext

// YTDLP drives the yt-dlp executable
type YTDLP struct {
	path       string
	identities IdentityProvider
	logger     *zap.Logger
}

// NewYTDLP creates a fetch client running the binary at path
func NewYTDLP(path string, identities IdentityProvider, logger *zap.Logger) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{path: path, identities: identities, logger: logger}
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	Height         int     `json:"height"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

type ytdlpInfo struct {
	Title       string        `json:"title"`
	Thumbnail   string        `json:"thumbnail"`
	Duration    float64       `json:"duration"`
	Height      int           `json:"height"`
	Tags        []string      `json:"tags"`
	Categories  []string      `json:"categories"`
	Description string        `json:"description"`
	Formats     []ytdlpFormat `json:"formats"`
}

type ytdlpProgress struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	Speed              *float64 `json:"speed"`
	ETA                *float64 `json:"eta"`
	Filename           string   `json:"filename"`
}

type ytdlpPlaylist struct {
	Entries []struct {
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
	} `json:"entries"`
}

// Probe lists the available encodings of url
func (y *YTDLP) Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{"-J", "--no-playlist", "--no-warnings"}
	args = append(args, identityArgs(y.nextIdentity(), cookiesFile)...)
	args = append(args, "--", url)

	out, err := y.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, models.NewError(models.KindTransientIO, "could not parse probe output", err)
	}
	return buildProbeResult(&info), nil
}

// Playlist expands a playlist URL into its entry URLs
func (y *YTDLP) Playlist(ctx context.Context, url, cookiesFile string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{"-J", "--flat-playlist", "--no-warnings"}
	args = append(args, identityArgs(y.nextIdentity(), cookiesFile)...)
	args = append(args, "--", url)

	out, err := y.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var pl ytdlpPlaylist
	if err := json.Unmarshal(out, &pl); err != nil {
		return nil, models.NewError(models.KindTransientIO, "could not parse playlist output", err)
	}

	urls := make([]string, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		switch {
		case e.URL != "":
			urls = append(urls, e.URL)
		case e.WebpageURL != "":
			urls = append(urls, e.WebpageURL)
		}
	}
	if len(urls) == 0 {
		return nil, models.ValidationError("no videos found in playlist")
	}
	return urls, nil
}

// Fetch downloads the selected encoding, reporting progress as it arrives,
// and returns the final file path
func (y *YTDLP) Fetch(ctx context.Context, opts FetchOptions, progress func(Progress)) (string, error) {
	cmd := execCommand(ctx, y.path, fetchArgs(opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return "", Classify(err, "")
	}

	var (
		mu        sync.Mutex
		finalPath string
		finished  bool
		errOutput strings.Builder
		wg        sync.WaitGroup
	)

	handle := func(line string, fromStdout bool) {
		mu.Lock()
		defer mu.Unlock()

		if p, ok := parseProgressLine(line); ok {
			if p.Status == ProgressFinished {
				if finished {
					return
				}
				finished = true
			}
			if progress != nil {
				progress(p)
			}
			return
		}
		if fromStdout {
			if l := strings.TrimSpace(line); l != "" {
				finalPath = l
			}
			return
		}
		errOutput.WriteString(line)
		errOutput.WriteByte('\n')
	}

	scan := func(r io.Reader, fromStdout bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			handle(scanner.Text(), fromStdout)
		}
	}

	wg.Add(2)
	go scan(stdout, true)
	go scan(stderr, false)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", Classify(ctx.Err(), "")
		}
		return "", Classify(err, errOutput.String())
	}

	if !finished && progress != nil {
		progress(Progress{Status: ProgressFinished})
	}

	if finalPath == "" {
		matches, _ := filepath.Glob(opts.OutputTemplate + ".*")
		if len(matches) == 0 {
			return "", models.NewError(models.KindTransientIO, "fetch produced no output file", nil)
		}
		finalPath = matches[0]
	}
	return finalPath, nil
}

// Version reports the installed yt-dlp version
func (y *YTDLP) Version(ctx context.Context) (string, error) {
	out, err := y.run(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (y *YTDLP) run(ctx context.Context, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, y.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, Classify(ctx.Err(), "")
		}
		y.logger.Debug("yt-dlp failed",
			zap.Strings("args", args),
			zap.String("stderr", stderr.String()),
			zap.Error(err))
		return nil, Classify(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (y *YTDLP) nextIdentity() Identity {
	if y.identities == nil {
		return Identity{}
	}
	return y.identities.Next()
}

func identityArgs(id Identity, cookiesFile string) []string {
	var args []string
	if id.UserAgent != "" {
		args = append(args, "--user-agent", id.UserAgent)
	}
	if id.Proxy != "" {
		args = append(args, "--proxy", id.Proxy)
	}
	if cookiesFile != "" {
		args = append(args, "--cookies", cookiesFile)
	}
	return args
}

func fetchArgs(opts FetchOptions) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--progress",
		"--progress-template", "download:" + progressPrefix + "%(progress)j",
		"--print", "after_move:filepath",
		"-o", opts.OutputTemplate + ".%(ext)s",
	}

	if opts.AudioOnly {
		args = append(args,
			"-f", audioSelector,
			"-x",
			"--audio-format", audioCodec,
			"--audio-quality", fmt.Sprintf("%dK", audioQualityKbps),
		)
	} else {
		args = append(args, "-f", opts.FormatSelector+"/best")
	}

	args = append(args, identityArgs(opts.Identity, opts.CookiesFile)...)
	return append(args, "--", opts.URL)
}

func parseProgressLine(line string) (Progress, bool) {
	idx := strings.Index(line, progressPrefix)
	if idx < 0 {
		return Progress{}, false
	}

	var raw ytdlpProgress
	if err := json.Unmarshal([]byte(line[idx+len(progressPrefix):]), &raw); err != nil {
		return Progress{}, false
	}

	p := Progress{Status: raw.Status, Filename: raw.Filename}
	if p.Status != ProgressFinished {
		p.Status = ProgressDownloading
	}
	if raw.DownloadedBytes != nil {
		p.DownloadedBytes = int64(*raw.DownloadedBytes)
	}
	switch {
	case raw.TotalBytes != nil && *raw.TotalBytes > 0:
		p.TotalBytes = int64(*raw.TotalBytes)
	case raw.TotalBytesEstimate != nil && *raw.TotalBytesEstimate > 0:
		p.TotalBytes = int64(*raw.TotalBytesEstimate)
		p.TotalEstimated = true
	}
	if raw.Speed != nil {
		p.Speed = *raw.Speed
	}
	if raw.ETA != nil {
		p.ETA = time.Duration(*raw.ETA * float64(time.Second))
	}
	return p, true
}

func buildProbeResult(info *ytdlpInfo) *models.ProbeResult {
	title := info.Title
	if title == "" {
		title = "Unknown Title"
	}

	result := &models.ProbeResult{
		Title:           title,
		Thumbnail:       info.Thumbnail,
		Duration:        models.FormatDuration(info.Duration),
		DurationSeconds: info.Duration,
		Height:          info.Height,
		Tags:            info.Tags,
		Categories:      info.Categories,
		Description:     info.Description,
	}

	audioSize := estimateSize(info.Duration, models.AudioResolution)
	result.Formats = append(result.Formats, models.FormatOption{
		Resolution:     models.AudioResolution,
		Container:      audioCodec,
		FormatSelector: audioSelector,
		SizeBytes:      audioSize,
		SizeEstimated:  true,
		Size:           models.FormatSize(audioSize),
	})

	seen := make(map[string]bool)
	for _, f := range info.Formats {
		if f.VCodec == "none" || f.Height <= 0 {
			continue
		}
		label := models.ResolutionForHeight(f.Height)
		if seen[label] {
			continue
		}
		seen[label] = true

		size, estimated := int64(f.Filesize), false
		if size <= 0 {
			size, estimated = int64(f.FilesizeApprox), true
		}
		if size <= 0 {
			size = estimateSize(info.Duration, label)
		}

		result.Formats = append(result.Formats, models.FormatOption{
			Resolution:     label,
			Container:      "mp4",
			FormatSelector: f.FormatID,
			SizeBytes:      size,
			SizeEstimated:  estimated,
			Size:           models.FormatSize(size),
		})
	}

	models.SortFormats(result.Formats)
	return result
}

// estimateSize derives a byte size from duration and a nominal bitrate
func estimateSize(durationSeconds float64, label string) int64 {
	kbps, ok := estimateBitrates[label]
	if !ok {
		kbps = estimateBitrates["144p"]
	}
	return int64(kbps * durationSeconds / 8 * 1024)
}
