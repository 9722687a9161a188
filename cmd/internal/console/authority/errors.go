package authority

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned by calls that need a session before Login.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrInvalidCredentials is returned by Login on a 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStaleCredentials is returned by Resume when the shared session is gone.
	ErrStaleCredentials = errors.New("shared session is no longer valid")
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gatekeeper: http %d", e.Status)
	}
	return fmt.Sprintf("gatekeeper: http %d %s: %s", e.Status, e.Code, e.Message)
}

// sessionGone reports whether the server rejected the session for good.
func (e *APIError) sessionGone() bool {
	if e.Status != 401 {
		return false
	}
	switch e.Code {
	case "session_expired", "session_revoked", "unauthorized":
		return true
	}
	return false
}
