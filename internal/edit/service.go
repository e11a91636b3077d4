package edit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"tasvid/internal/media"
	"tasvid/internal/models"
	"tasvid/internal/storage"
)

const (
	DefaultAudioFormat  = "mp3"
	DefaultAudioBitrate = 192

	OrganizeByCategory = "category"
	OrganizeByDate     = "date"
)

// HistoryRewriter keeps history entries pointing at moved files
type HistoryRewriter interface {
	RewritePath(ctx context.Context, oldPath, newPath string) (int, error)
}

// Prober looks up metadata for a URL
type Prober interface {
	Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error)
}

// Service runs post-download edits on files under the download directory
type Service struct {
	root      string
	transform media.TransformClient
	prober    Prober
	history   HistoryRewriter
	uploads   storage.Provider
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an edit service confined to root. uploads may be nil when no
// storage backend is configured.
func New(root string, transform media.TransformClient, prober Prober, history HistoryRewriter, uploads storage.Provider, logger *zap.Logger) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}
	return &Service{
		root:      abs,
		transform: transform,
		prober:    prober,
		history:   history,
		uploads:   uploads,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// resolve cleans path and checks it names an existing file under root
func (s *Service) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", models.ValidationError("path is required")
	}
	path = filepath.Clean(path)

	if !s.contains(path) {
		return "", models.ValidationError("path %s is outside the download directory", path)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", models.NotFound("file", path)
	}
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "stat "+path, err)
	}
	if info.IsDir() {
		return "", models.ValidationError("%s is a directory", path)
	}
	return path, nil
}

func (s *Service) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, s.root+string(filepath.Separator))
}

func splitName(path string) (dir, base, ext string) {
	dir = filepath.Dir(path)
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	return dir, strings.TrimSuffix(name, ext), ext
}

// Probe returns the metadata used to analyze a URL before downloading
func (s *Service) Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error) {
	req := models.DownloadRequest{URL: url, FormatSelector: "best"}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.prober.Probe(ctx, url, cookiesFile)
}

// Trim writes <base>_trimmed<ext> holding the [start, end] window
func (s *Service) Trim(ctx context.Context, path, start, end string) (string, error) {
	in, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	startSec, err := ParseTimestamp(start)
	if err != nil {
		return "", err
	}
	endSec, err := ParseTimestamp(end)
	if err != nil {
		return "", err
	}
	if endSec <= startSec {
		return "", models.ValidationError("end time must be after start time")
	}

	dir, base, ext := splitName(in)
	out := filepath.Join(dir, base+"_trimmed"+ext)
	if err := s.transform.Trim(ctx, in, out, startSec, endSec); err != nil {
		return "", err
	}

	s.logger.Info("trimmed file",
		zap.String("input", in),
		zap.String("output", out),
		zap.Float64("start", startSec),
		zap.Float64("end", endSec))
	return out, nil
}

// AdjustVolume writes <base>_volume<ext> with the audio scaled by factor
func (s *Service) AdjustVolume(ctx context.Context, path string, factor float64) (string, error) {
	in, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if factor <= 0 {
		return "", models.ValidationError("volume factor must be positive")
	}

	dir, base, ext := splitName(in)
	out := filepath.Join(dir, base+"_volume"+ext)
	if err := s.transform.AdjustVolume(ctx, in, out, factor); err != nil {
		return "", err
	}

	s.logger.Info("adjusted volume",
		zap.String("input", in),
		zap.String("output", out),
		zap.Float64("factor", factor))
	return out, nil
}

// ExtractAudio writes the audio track to <base>.<format>
func (s *Service) ExtractAudio(ctx context.Context, path, format string, bitrateKbps int) (string, error) {
	in, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = DefaultAudioFormat
	}
	if !media.SupportedAudioFormat(format) {
		return "", models.ValidationError("unsupported audio format %q", format)
	}
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultAudioBitrate
	}

	dir, base, ext := splitName(in)
	out := filepath.Join(dir, base+"."+format)
	if strings.EqualFold(ext, "."+format) {
		out = filepath.Join(dir, base+"_audio."+format)
	}
	if err := s.transform.ExtractAudio(ctx, in, out, format, bitrateKbps); err != nil {
		return "", err
	}

	s.logger.Info("extracted audio",
		zap.String("input", in),
		zap.String("output", out),
		zap.String("format", format),
		zap.Int("bitrate_kbps", bitrateKbps))
	return out, nil
}

// Rename gives the file a new base name, keeping its directory and
// extension, and repoints history at it
func (s *Service) Rename(ctx context.Context, path, newName string) (string, error) {
	in, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == "." || newName == ".." || strings.ContainsAny(newName, `/\`) {
		return "", models.ValidationError("invalid file name %q", newName)
	}

	dir, _, ext := splitName(in)
	out := filepath.Join(dir, newName+ext)
	return out, s.move(ctx, in, out)
}

// Organize moves the file next to its parent directory into
// Categories/<category> or Dates/<YYYY-MM-DD>. It returns the new path and
// the category or date chosen.
func (s *Service) Organize(ctx context.Context, path string, info *models.ProbeResult, mode string) (string, string, error) {
	in, err := s.resolve(path)
	if err != nil {
		return "", "", err
	}

	var group, label string
	switch mode {
	case "", OrganizeByCategory:
		group, label = "Categories", Categorize(info)
	case OrganizeByDate:
		group, label = "Dates", s.now().Format("2006-01-02")
	default:
		return "", "", models.ValidationError("unknown organization type %q", mode)
	}

	base := filepath.Dir(filepath.Dir(in))
	if !s.contains(filepath.Join(base, group)) {
		base = s.root
	}
	destDir := filepath.Join(base, group, label)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", "", models.NewError(models.KindTransientIO, "create "+destDir, err)
	}

	out := filepath.Join(destDir, filepath.Base(in))
	if err := s.move(ctx, in, out); err != nil {
		return "", "", err
	}
	return out, label, nil
}

func (s *Service) move(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	if _, err := os.Stat(to); err == nil {
		return models.ValidationError("%s already exists", to)
	}
	if err := os.Rename(from, to); err != nil {
		return models.NewError(models.KindTransientIO, "move "+from, err)
	}

	n, err := s.history.RewritePath(ctx, from, to)
	if err != nil {
		s.logger.Error("file moved but history not updated",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return fmt.Errorf("update history: %w", err)
	}

	s.logger.Info("moved file",
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("history_entries", n))
	return nil
}

// Upload copies the file to the configured storage backend under its path
// relative to the download directory
func (s *Service) Upload(ctx context.Context, path string) (string, error) {
	if s.uploads == nil {
		return "", models.ValidationError("uploads are not configured")
	}
	in, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(in)
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "resolve "+in, err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "resolve "+in, err)
	}
	key := filepath.ToSlash(rel)

	f, err := os.Open(in)
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "open "+in, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", models.NewError(models.KindTransientIO, "stat "+in, err)
	}

	location, err := s.uploads.PutObject(ctx, key, f, info.Size())
	if err != nil {
		s.logger.Error("upload failed", zap.String("path", in), zap.Error(err))
		return "", models.NewError(models.KindTransientIO, "upload "+in, err)
	}

	s.logger.Info("uploaded file",
		zap.String("path", in),
		zap.String("location", location),
		zap.Int64("bytes", info.Size()))
	return location, nil
}
