package authapi

import (
	"time"

	"gatekeeper/cmd/internal/auth/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Reason string `json:"reason"`
}

type sessionResponse struct {
	SessionID           string    `json:"session_id"`
	UserID              string    `json:"user_id"`
	Role                string    `json:"role"`
	State               string    `json:"state"`
	CreatedAt           time.Time `json:"created_at"`
	LastSeenAt          time.Time `json:"last_seen_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	InactivityTimeoutMS int64     `json:"inactivity_timeout_ms"`
	HeartbeatIntervalMS int64     `json:"heartbeat_interval_ms"`
}

type loginResponse struct {
	Session   sessionResponse `json:"session"`
	CSRFToken string          `json:"csrf_token"`
}

type heartbeatResponse struct {
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrf_token"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenID     string    `json:"token_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type healthSessionsResponse struct {
	ActiveSessions         int `json:"activeSessions"`
	RevokedTokens          int `json:"revokedTokens"`
	CleanedExpiredSessions int `json:"cleanedExpiredSessions"`
}

type healthCSRFResponse struct {
	Healthy     bool    `json:"healthy"`
	IssuedCount uint64  `json:"issuedCount"`
	FailureRate float64 `json:"failureRate"`
}

type adminSession struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	Role         string     `json:"role"`
	State        string     `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

type adminSessionsResponse struct {
	Sessions []adminSession `json:"sessions"`
}

type adminRevokeSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type adminRevokeSessionResponse struct {
	Revoked int `json:"revoked"`
}

type adminRevokeTokenRequest struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) toSessionResponse(s session.Session) sessionResponse {
	timeout := h.sessions.Config().InactivityTimeout
	return sessionResponse{
		SessionID:           s.ID,
		UserID:              s.UserID,
		Role:                string(s.Role),
		State:               s.State.String(),
		CreatedAt:           s.CreatedAt,
		LastSeenAt:          s.LastSeenAt,
		ExpiresAt:           s.LastSeenAt.Add(timeout),
		InactivityTimeoutMS: timeout.Milliseconds(),
		HeartbeatIntervalMS: h.cfg.HeartbeatInterval.Milliseconds(),
	}
}

// Admin listings never expose full session ids.
func toAdminSession(s session.Session) adminSession {
	out := adminSession{
		SessionID:  s.ShortID(),
		UserID:     s.UserID,
		Role:       string(s.Role),
		State:      s.State.String(),
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
		Reason:     s.Reason,
	}
	if !s.TerminatedAt.IsZero() {
		at := s.TerminatedAt
		out.TerminatedAt = &at
	}
	return out
}
