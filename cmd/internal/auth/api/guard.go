package authapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/session"
)

type guard uint8

const (
	needAuth guard = 1 << iota
	needAdmin
	needCSRF
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Session session.Session
	// TokenID is set when the caller authenticated with a bearer token.
	TokenID string
}

type guardedFunc func(w http.ResponseWriter, r *http.Request, p Principal)

func (h *Handler) route(method, action string, g guard, fn guardedFunc) http.Handler {
	if g&needAdmin != 0 {
		g |= needAuth
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.allow(w, r, action) {
			return
		}

		var p Principal
		if g&needAuth != 0 {
			var err error
			p, err = h.Authenticate(r)
			if err != nil {
				h.WriteAuthError(w, err)
				return
			}
		}
		if g&needAdmin != 0 && !p.Session.Role.Elevated() {
			h.WriteAuthError(w, ErrForbidden)
			return
		}
		if g&needCSRF != 0 && !h.checkCSRF(r, p) {
			h.WriteAuthError(w, csrf.ErrMismatch)
			return
		}
		fn(w, r, p)
	})
}

// allow consumes one request from the caller's budget for action.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, action string) bool {
	ip := clientIPString(r, h.cfg.TrustProxy)
	res, err := h.limiter.CheckAndConsume(ratelimit.Key{Identity: ip, Action: action})
	if err != nil {
		h.log.Error("auth.ratelimit.fail", "err", err, "action", action)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return false
	}
	if res.Allowed {
		return true
	}

	retryAfter := res.RetryAfter(h.clk.Now())
	h.obs.RateLimited(action)
	act := audit.ActionRateLimited
	if action == ratelimit.ActionAuthentication {
		act = audit.ActionLoginRateLimited
	}
	h.record(r, act, Principal{}, map[string]any{
		"action":        action,
		"retry_after_s": int64(retryAfter / time.Second),
	})
	writeRateLimited(w, retryAfter)
	return false
}

// Authenticate resolves the caller from a bearer token or the session cookie.
// The session must be Active; a bearer token must also not be revoked.
func (h *Handler) Authenticate(r *http.Request) (Principal, error) {
	if raw := bearerToken(r); raw != "" {
		claims, err := h.tokens.Verify(raw, h.clk.Now())
		if err != nil {
			return Principal{}, ErrUnauthorized
		}
		if h.revoked.IsRevoked(claims.TokenID) {
			return Principal{}, ErrTokenRevoked
		}
		sess, err := h.sessions.Get(claims.SessionID)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Session: sess, TokenID: claims.TokenID}, nil
	}

	c, err := r.Cookie(h.cfg.CookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Principal{}, ErrUnauthorized
	}
	sess, err := h.sessions.Get(strings.TrimSpace(c.Value))
	if err != nil {
		return Principal{}, err
	}
	return Principal{Session: sess}, nil
}

func (h *Handler) checkCSRF(r *http.Request, p Principal) bool {
	presented := strings.TrimSpace(r.Header.Get(h.csrf.Header()))
	if h.csrf.Validate(p.Session.ID, presented) {
		return true
	}
	h.obs.CSRFRejected()
	h.record(r, audit.ActionCSRFFailed, p, map[string]any{"path": r.URL.Path})
	return false
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// clientIPString is the rate-limit identity. Callers without a parseable
// address share one bucket.
func clientIPString(r *http.Request, trustProxy bool) string {
	if ip := clientIP(r, trustProxy); ip != nil {
		return ip.String()
	}
	return "unknown"
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
