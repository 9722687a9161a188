package csrf

import "errors"

var (
	// ErrMismatch is the error surfaced when validation fails.
	ErrMismatch = errors.New("csrf token mismatch")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid csrf config")
)
