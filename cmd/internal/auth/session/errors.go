package session

import "errors"

var (
	// ErrNotFound is returned when a session id is unknown (or already evicted).
	ErrNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session timed out. Not retryable.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session was terminated. Not retryable.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrInvalidUser is returned by Create for an empty user id or unknown role.
	ErrInvalidUser = errors.New("invalid session user")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// IsTerminal reports whether err means the caller must re-authenticate.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionRevoked) || errors.Is(err, ErrNotFound)
}
