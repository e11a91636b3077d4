package download

import (
	"strings"
	"time"
	"unicode"
)

const maxTitleRunes = 50

// OutputFilename builds the extensionless output name for a download:
// the sanitized title, or the URL's last path segment when the title is
// unknown, followed by the creation timestamp.
func OutputFilename(title, rawURL string, created time.Time) string {
	base := sanitize(title)
	if base == "" {
		base = sanitize(urlTail(rawURL))
	}
	if base == "" {
		base = "download"
	}
	return base + "_" + created.Format("20060102_150405")
}

func urlTail(rawURL string) string {
	rawURL = strings.TrimRight(rawURL, "/")
	if i := strings.LastIndexAny(rawURL, "?#"); i >= 0 && strings.LastIndex(rawURL, "/") < i {
		rawURL = rawURL[:i]
	}
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}

func sanitize(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == maxTitleRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" ._-", r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}
	return strings.TrimSpace(b.String())
}
