package authapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/session"
)

// ---- session lifecycle ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request, _ Principal) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	who, err := h.identity.VerifyCredential(ctx, username, req.Password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			h.log.Error("auth.login.verify.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.obs.Login("failure")
		h.record(r, audit.ActionLoginFailed, Principal{}, map[string]any{"identifier": identity.NormalizeUsername(username)})
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	role, ok := session.ParseRole(who.Role)
	if !ok {
		h.log.Warn("auth.login.role.unknown", "user_id", who.UserID, "role", who.Role)
		h.obs.Login("failure")
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return
	}

	sess, err := h.sessions.Create(who.UserID, role)
	if err != nil {
		h.log.Error("auth.login.create_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	tok, err := h.csrf.Issue(sess.ID)
	if err != nil {
		h.log.Error("auth.login.csrf_issue.fail", "err", err)
		_ = h.sessions.Terminate(sess.ID, session.ReasonLogout)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.obs.Login("success")
	h.record(r, audit.ActionLoginSuccess, Principal{Session: sess}, map[string]any{"role": string(role)})
	h.log.Info("auth.login.ok", "user_id", sess.UserID, "session", sess.ShortID())

	h.setSessionCookie(w, sess.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Session:   h.toSessionResponse(sess),
		CSRFToken: tok,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, _ *http.Request, p Principal) {
	sess, err := h.sessions.Heartbeat(p.Session.ID)
	if err != nil {
		h.WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		LastSeenAt: sess.LastSeenAt,
		ExpiresAt:  sess.LastSeenAt.Add(h.sessions.Config().InactivityTimeout),
	})
}

// Client-reported reasons accepted on logout.
var logoutReasons = map[string]struct{}{
	session.ReasonLogout:     {},
	session.ReasonInactivity: {},
	session.ReasonTabClosed:  {},
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request, p Principal) {
	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	reason := strings.ToLower(strings.TrimSpace(req.Reason))
	if _, ok := logoutReasons[reason]; !ok {
		reason = session.ReasonLogout
	}

	if err := h.sessions.Terminate(p.Session.ID, reason); err != nil {
		h.WriteAuthError(w, err)
		return
	}

	h.record(r, audit.ActionLogout, p, map[string]any{"reason": reason})
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleCSRFRotate needs no CSRF token of its own: a page that lost its token
// must be able to get a new one. Cross-origin callers are stopped by the
// origin check in front of the mux and cannot read the response anyway.
func (h *Handler) handleCSRFRotate(w http.ResponseWriter, _ *http.Request, p Principal) {
	tok, err := h.csrf.Issue(p.Session.ID)
	if err != nil {
		h.WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: tok})
}

func (h *Handler) handleSession(w http.ResponseWriter, _ *http.Request, p Principal) {
	writeJSON(w, http.StatusOK, h.toSessionResponse(p.Session))
}

func (h *Handler) handleTokenIssue(w http.ResponseWriter, r *http.Request, p Principal) {
	// Tokens are minted from the cookie session only, never from another token.
	if p.TokenID != "" {
		h.WriteAuthError(w, ErrForbidden)
		return
	}

	raw, claims, err := h.tokens.Issue(p.Session, h.clk.Now())
	if err != nil {
		h.WriteAuthError(w, err)
		return
	}
	if err := h.revoked.Track(p.Session.ID, claims.TokenID, claims.ExpiresAt); err != nil {
		h.WriteAuthError(w, err)
		return
	}

	h.record(r, audit.ActionTokenIssued, p, map[string]any{"token_id": claims.TokenID})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: raw,
		TokenID:     claims.TokenID,
		ExpiresAt:   claims.ExpiresAt,
	})
}

// ---- operator health ----

// handleHealthSessions sweeps before counting so the active count reflects
// sessions that timed out since the last access.
func (h *Handler) handleHealthSessions(w http.ResponseWriter, _ *http.Request, _ Principal) {
	cleaned := h.sessions.CleanupExpired()
	h.revoked.PruneExpired()

	writeJSON(w, http.StatusOK, healthSessionsResponse{
		ActiveSessions:         h.sessions.CountActive(),
		RevokedTokens:          h.revoked.Count(),
		CleanedExpiredSessions: cleaned,
	})
}

func (h *Handler) handleHealthCSRF(w http.ResponseWriter, _ *http.Request, _ Principal) {
	st := h.csrf.HealthStatus()
	status := http.StatusOK
	if !st.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthCSRFResponse{
		Healthy:     st.Healthy,
		IssuedCount: st.IssuedCount,
		FailureRate: st.FailureRate,
	})
}

// ---- admin ----

func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request, _ Principal) {
	var list []session.Session
	if user := strings.TrimSpace(r.URL.Query().Get("user")); user != "" {
		list = h.sessions.ListByUser(identity.NormalizeUsername(user))
	} else {
		list = h.sessions.List()
	}

	out := adminSessionsResponse{Sessions: make([]adminSession, 0, len(list))}
	for _, s := range list {
		out.Sessions = append(out.Sessions, toAdminSession(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAdminRevokeSession(w http.ResponseWriter, r *http.Request, p Principal) {
	var req adminRevokeSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	user := identity.NormalizeUsername(req.UserID)
	if (sid == "") == (user == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "exactly one of session_id or user_id is required")
		return
	}

	var targets []session.Session
	if sid != "" {
		// Listings show id prefixes, so a prefix must resolve to exactly one session.
		for _, s := range h.sessions.List() {
			if strings.HasPrefix(s.ID, sid) {
				targets = append(targets, s)
			}
		}
		switch {
		case len(targets) == 0:
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		case len(targets) > 1:
			writeError(w, http.StatusConflict, "ambiguous", "session id prefix is ambiguous")
			return
		}
	} else {
		targets = h.sessions.ListByUser(user)
	}

	revoked := 0
	for _, s := range targets {
		if s.State != session.StateActive {
			continue
		}
		if err := h.sessions.Terminate(s.ID, session.ReasonAdmin); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			h.WriteAuthError(w, err)
			return
		}
		revoked++
	}

	h.record(r, audit.ActionAdminRevoke, p, map[string]any{
		"target_user":    user,
		"target_session": session.ShortID(sid),
		"revoked":        revoked,
	})
	writeJSON(w, http.StatusOK, adminRevokeSessionResponse{Revoked: revoked})
}

func (h *Handler) handleAdminRevokeToken(w http.ResponseWriter, r *http.Request, p Principal) {
	var req adminRevokeTokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	// Without an expiry the entry lives for the longest possible token lifetime.
	now := h.clk.Now()
	exp := req.ExpiresAt
	if ceiling := now.Add(h.tokens.TTL()); exp.IsZero() || exp.After(ceiling) {
		exp = ceiling
	}
	if err := h.revoked.Revoke(req.TokenID, exp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id is required")
		return
	}

	h.record(r, audit.ActionAdminTokenRevoke, p, map[string]any{"token_id": strings.TrimSpace(req.TokenID)})
	w.WriteHeader(http.StatusNoContent)
}
