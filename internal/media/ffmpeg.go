package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// FFmpeg encoder settings
const (
	VideoCodec    = "libx264"
	VideoPreset   = "medium"
	FastStartFlag = "+faststart"
)

var audioCodecs = map[string]string{
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"wav":  "pcm_s16le",
	"ogg":  "libvorbis",
	"flac": "flac",
}

// AudioCodecFor maps a container format to its ffmpeg encoder, defaulting to mp3
func AudioCodecFor(format string) string {
	if c, ok := audioCodecs[strings.ToLower(format)]; ok {
		return c
	}
	return audioCodecs["mp3"]
}

// SupportedAudioFormat reports whether format has a known encoder
func SupportedAudioFormat(format string) bool {
	_, ok := audioCodecs[strings.ToLower(format)]
	return ok
}

// FFmpeg runs the ffmpeg executable
type FFmpeg struct {
	path    string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFFmpeg creates a transform client running the binary at path
func NewFFmpeg(path string, logger *zap.Logger, m *metrics.Metrics) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path, logger: logger, metrics: m}
}

// Reencode compresses in to out with libx264 at the given CRF
func (f *FFmpeg) Reencode(ctx context.Context, in, out string, crf int) error {
	return f.run(ctx, "reencode", out, reencodeArgs(in, out, crf))
}

// Trim cuts in to the [start, end] window in seconds
func (f *FFmpeg) Trim(ctx context.Context, in, out string, start, end float64) error {
	if end <= start {
		return models.ValidationError("end time must be after start time")
	}
	return f.run(ctx, "trim", out, trimArgs(in, out, start, end))
}

// AdjustVolume scales the audio track by factor
func (f *FFmpeg) AdjustVolume(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return models.ValidationError("volume factor must be positive")
	}
	return f.run(ctx, "volume", out, volumeArgs(in, out, factor))
}

// ExtractAudio writes the audio track of in to out
func (f *FFmpeg) ExtractAudio(ctx context.Context, in, out, format string, bitrateKbps int) error {
	return f.run(ctx, "extract_audio", out, extractAudioArgs(in, out, format, bitrateKbps))
}

func (f *FFmpeg) run(ctx context.Context, op, out string, args []string) error {
	start := time.Now()
	var stderr bytes.Buffer
	cmd := execCommand(ctx, f.path, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := "success"
	if err != nil {
		result = "error"
	}
	if f.metrics != nil {
		f.metrics.TransformDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}

	// partial output is useless
	os.Remove(out)

	f.logger.Warn("ffmpeg failed",
		zap.String("op", op),
		zap.String("output", out),
		zap.String("stderr", tail(stderr.String(), 2048)),
		zap.Error(err))

	if ctx.Err() != nil {
		return models.NewError(models.KindTransform, op+" interrupted", ctx.Err())
	}
	return models.NewError(models.KindTransform, fmt.Sprintf("%s failed: %s", op, lastLine(stderr.String())), err)
}

func reencodeArgs(in, out string, crf int) []string {
	return []string{
		"-y",
		"-i", in,
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-crf", strconv.Itoa(crf),
		"-c:a", "copy",
		"-movflags", FastStartFlag,
		out,
	}
}

func trimArgs(in, out string, start, end float64) []string {
	return []string{
		"-y",
		"-i", in,
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-c", "copy",
		out,
	}
}

func volumeArgs(in, out string, factor float64) []string {
	return []string{
		"-y",
		"-i", in,
		"-filter:a", "volume=" + strconv.FormatFloat(factor, 'f', -1, 64),
		"-c:v", "copy",
		out,
	}
}

func extractAudioArgs(in, out, format string, bitrateKbps int) []string {
	args := []string{
		"-y",
		"-i", in,
		"-vn",
		"-acodec", AudioCodecFor(format),
	}
	if bitrateKbps > 0 && !isLossless(format) {
		args = append(args, "-b:a", fmt.Sprintf("%dk", bitrateKbps))
	}
	return append(args, out)
}

func isLossless(format string) bool {
	f := strings.ToLower(format)
	return f == "wav" || f == "flac"
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
