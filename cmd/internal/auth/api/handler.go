package authapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/revocation"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/auth/token"
	"gatekeeper/cmd/internal/clock"
)

// Observer receives security counters. The app backs it with Prometheus.
type Observer interface {
	RateLimited(action string)
	CSRFRejected()
	Login(outcome string)
}

type nopObserver struct{}

func (nopObserver) RateLimited(string) {}
func (nopObserver) CSRFRejected()      {}
func (nopObserver) Login(string)       {}

// Deps are the stores and collaborators the handler drives.
type Deps struct {
	Sessions *session.Store
	CSRF     *csrf.Manager
	Limiter  *ratelimit.Store
	Revoked  *revocation.Registry
	Tokens   *token.Manager
	Identity identity.Verifier

	// Optional.
	Audit    *audit.Recorder
	Observer Observer
	Clock    clock.Clock
}

// Handler wires HTTP auth endpoints to the stores.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Store
	csrf     *csrf.Manager
	limiter  *ratelimit.Store
	revoked  *revocation.Registry
	tokens   *token.Manager
	identity identity.Verifier
	audit    *audit.Recorder
	obs      Observer
	clk      clock.Clock
}

// NewHandler constructs a Handler. It subscribes to session termination so a
// terminated session loses its CSRF token and every access token tracked for it.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sessions == nil || deps.CSRF == nil || deps.Limiter == nil ||
		deps.Revoked == nil || deps.Tokens == nil || deps.Identity == nil {
		return nil, errors.New("authapi: missing dependency")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: deps.Sessions,
		csrf:     deps.CSRF,
		limiter:  deps.Limiter,
		revoked:  deps.Revoked,
		tokens:   deps.Tokens,
		identity: deps.Identity,
		audit:    deps.Audit,
		obs:      deps.Observer,
		clk:      clock.OrReal(deps.Clock),
	}
	if h.audit == nil {
		h.audit = audit.NewRecorder(log)
	}
	if h.obs == nil {
		h.obs = nopObserver{}
	}

	h.sessions.OnTerminate(h.onSessionEnded)
	return h, nil
}

func (h *Handler) onSessionEnded(s session.Session) {
	h.csrf.Drop(s.ID)
	n := h.revoked.RevokeSession(s.ID)
	h.log.Info("auth.session.ended", "session", s.ShortID(), "user_id", s.UserID, "reason", s.Reason, "tokens_revoked", n)
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	general := ratelimit.ActionGeneral

	mux.Handle("/auth/login", h.route(http.MethodPost, ratelimit.ActionAuthentication, 0, h.handleLogin))
	mux.Handle("/auth/heartbeat", h.route(http.MethodPost, ratelimit.ActionHeartbeat, needAuth|needCSRF, h.handleHeartbeat))
	mux.Handle("/auth/logout", h.route(http.MethodPost, general, needAuth|needCSRF, h.handleLogout))
	mux.Handle("/auth/csrf", h.route(http.MethodPost, general, needAuth, h.handleCSRFRotate))
	mux.Handle("/auth/session", h.route(http.MethodGet, general, needAuth, h.handleSession))
	mux.Handle("/auth/token", h.route(http.MethodPost, general, needAuth|needCSRF, h.handleTokenIssue))

	mux.Handle("/health/sessions", h.route(http.MethodGet, general, needAdmin, h.handleHealthSessions))
	mux.Handle("/health/csrf", h.route(http.MethodGet, general, needAdmin, h.handleHealthCSRF))

	mux.Handle("/admin/sessions", h.route(http.MethodGet, general, needAdmin, h.handleAdminSessions))
	mux.Handle("/admin/sessions/revoke", h.route(http.MethodPost, general, needAdmin|needCSRF, h.handleAdminRevokeSession))
	mux.Handle("/admin/tokens/revoke", h.route(http.MethodPost, general, needAdmin|needCSRF, h.handleAdminRevokeToken))
}
