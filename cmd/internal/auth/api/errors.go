package authapi

import (
	"errors"
	"net/http"

	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/session"
)

var (
	// ErrUnauthorized means no usable identity was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the identity lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrTokenRevoked means a bearer token was revoked before its expiry.
	ErrTokenRevoked = errors.New("token revoked")
)

// WriteAuthError maps an authentication/authorization failure to the JSON
// error envelope. Messages are generic. Unknown errors become a 500 and are
// logged, never echoed.
func (h *Handler) WriteAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		h.clearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, "session_expired", "session expired")
	case errors.Is(err, session.ErrSessionRevoked):
		h.clearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
	case errors.Is(err, ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token_revoked", "token revoked")
	case errors.Is(err, ErrUnauthorized), errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
	case errors.Is(err, csrf.ErrMismatch):
		writeError(w, http.StatusForbidden, "csrf_mismatch", "request could not be verified")
	default:
		h.log.Error("auth.request.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
