package media

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"

	"tasvid/internal/models"
)

var (
	rateLimitMarkers = []string{"429", "too many requests", "rate limit", "rate-limit"}
	challengeMarkers = []string{"captcha", "confirm you're not a bot", "confirm you are not a bot", "sign in to confirm"}
	drmMarkers       = []string{"drm", "protected", "this video is not available for purchase"}
)

// Classify maps a failed external call onto the error taxonomy. It is the
// only place output text of the fetch tool is inspected; callers switch on
// models.KindOf afterwards.
func Classify(err error, output string) error {
	if err == nil {
		return nil
	}
	var classified *models.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindTransientIO, "interrupted", err)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return models.NewError(models.KindTransientIO, "executable or file not found", err)
	}

	text := strings.ToLower(output + "\n" + err.Error())
	msg := lastLine(output)
	if msg == "" {
		msg = err.Error()
	}

	switch {
	case containsAny(text, rateLimitMarkers):
		return models.NewError(models.KindRateLimited, msg, err)
	case containsAny(text, challengeMarkers):
		return models.NewError(models.KindChallenge, msg, err)
	case containsAny(text, drmMarkers):
		return models.NewError(models.KindRightsProtected, msg, err)
	default:
		return models.NewError(models.KindTransientIO, msg, err)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// lastLine picks the most specific message from multi-line tool output,
// preferring the last ERROR: line
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
