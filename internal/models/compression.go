package models

import (
	"strconv"
	"strings"
)

// Default CRF values for the named compression policies
const (
	CRFHigh    = 18
	CRFDefault = 23
	CRFLow     = 28
	CRFMin     = 0
	CRFMax     = 51
)

// Compression is a parsed compression policy
type Compression struct {
	Policy string // none, auto, low, medium, high or custom
	Value  int    // explicit quality for custom
}

// Enabled reports whether the fetched file should be re-encoded
func (c Compression) Enabled() bool {
	return c.Policy != "none"
}

// CRF maps the policy to an x264 constant rate factor
func (c Compression) CRF() int {
	switch c.Policy {
	case "high":
		return CRFHigh
	case "low":
		return CRFLow
	case "custom":
		return clampCRF(c.Value)
	default:
		return CRFDefault
	}
}

// ParseCompression parses a compression policy. An empty value means auto.
func ParseCompression(s string) (Compression, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return Compression{Policy: "auto"}, nil
	case "none", "auto", "low", "medium", "high":
		return Compression{Policy: s}, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Compression{}, ValidationError("invalid compression %q", s)
	}
	return Compression{Policy: "custom", Value: clampCRF(v)}, nil
}

func clampCRF(v int) int {
	if v < CRFMin {
		return CRFMin
	}
	if v > CRFMax {
		return CRFMax
	}
	return v
}
