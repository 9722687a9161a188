package session

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"
)

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateActive sessions accept heartbeats.
	StateActive State = iota
	// StateExpired sessions timed out.
	StateExpired
	// StateRevoked sessions were terminated explicitly.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s == StateExpired || s == StateRevoked }

// Role is the access level granted by a session.
type Role string

const (
	// RoleAdmin may use health and admin endpoints.
	RoleAdmin Role = "admin"
	// RoleEditor may use the panel but not operator endpoints.
	RoleEditor Role = "editor"
)

// ParseRole normalizes a role string. Unknown roles are rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleEditor:
		return RoleEditor, true
	default:
		return "", false
	}
}

// Elevated reports whether the role may reach operator endpoints.
func (r Role) Elevated() bool { return r == RoleAdmin }

// Termination reasons.
const (
	ReasonLogout      = "logout"
	ReasonExpired     = "expired"
	ReasonMaxLifetime = "max_lifetime"
	ReasonSuperseded  = "superseded"
	ReasonAdmin       = "admin_revoked"
	ReasonInactivity  = "inactivity"
	ReasonTabClosed   = "tab_closed"
)

// Session is a snapshot of one session record.
type Session struct {
	ID         string
	UserID     string
	Role       Role
	CreatedAt  time.Time
	LastSeenAt time.Time
	State      State

	// Set once the session reaches a terminal state.
	TerminatedAt time.Time
	Reason       string
}

// ShortID returns a log-safe prefix of the session id.
func (s Session) ShortID() string { return ShortID(s.ID) }

// ShortID returns a log-safe prefix of a session id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func newSessionID(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
