// Package errx attaches a sentinel classification to an underlying error.
//
// The returned error matches both the sentinel and the cause under
// [errors.Is], so callers can branch on the failure class without losing the
// original error chain.
package errx

import (
	"errors"
	"fmt"
)

// Wraps err under sentinel. Returns nil when err is nil.
func Wrap(sentinel, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under sentinel.
//
// The format may itself contain a %w verb, in which case the wrapped error is
// also reachable through [errors.Is].
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w", sentinel, fmt.Errorf(format, args...))
}

// Reports whether err carries any of the given sentinels.
func IsAny(err error, sentinels ...error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
