package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidKey is returned when the identity or action of a key is empty.
	ErrInvalidKey = errors.New("invalid rate limit key")

	// ErrRateLimited is the sentinel carried by LimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidLimit is returned for non-positive budgets or windows.
	ErrInvalidLimit = errors.New("invalid rate limit")
)

// LimitError carries retry metadata for a denied request.
type LimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e LimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: %s retry after %s", ErrRateLimited.Error(), e.Action, e.RetryAfter)
}

func (e LimitError) Unwrap() error { return ErrRateLimited }
