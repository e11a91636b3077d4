package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure once, at the boundary where it is observed
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindRateLimited     ErrorKind = "rate_limited"
	KindChallenge       ErrorKind = "challenge_required"
	KindRightsProtected ErrorKind = "rights_protected"
	KindTransform       ErrorKind = "transform_failure"
	KindTransientIO     ErrorKind = "transient_io"
)

// ErrNotFound is returned by every lookup of an unknown handle
var ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

// Error is a classified failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for not-found errors carrying their own message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a classified error
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ValidationError reports a missing or malformed request field
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown handle of the given type
func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// KindOf extracts the kind of err. Unclassified errors are transient IO failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransientIO
}

// Retryable reports whether the fetch step should retry with a new identity
func Retryable(err error) bool {
	return KindOf(err) == KindRateLimited
}

// UserMessage is the human-readable explanation shown for a failed download
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindRateLimited:
		return "The platform is rate limiting requests. Try again later."
	case KindRightsProtected:
		return "This video is DRM protected and cannot be downloaded."
	case KindChallenge:
		return "CAPTCHA detected. This download likely needs manual intervention."
	case KindValidation:
		return "The download request is invalid."
	default:
		return "The download failed."
	}
}
