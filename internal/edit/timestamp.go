package edit

import (
	"strconv"
	"strings"

	"tasvid/internal/models"
)

// ParseTimestamp accepts plain seconds, MM:SS or HH:MM:SS. The last
// component may be fractional.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, models.ValidationError("timestamp is required")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, models.ValidationError("invalid timestamp %q", s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		if last {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return 0, models.ValidationError("invalid timestamp %q", s)
			}
			v = f
		} else {
			n, err := strconv.Atoi(p)
			if err != nil {
				return 0, models.ValidationError("invalid timestamp %q", s)
			}
			v = float64(n)
		}
		if v < 0 || (i > 0 && v >= 60) {
			return 0, models.ValidationError("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}
