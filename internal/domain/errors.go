package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrUnauthenticated       = errors.New("authentication failed")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("record not found")
	ErrConflict              = errors.New("idempotency key already in use")
	ErrUpstream              = errors.New("upstream provider error")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Errorf wraps a sentinel with a formatted detail so callers can match with errors.Is.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
