// Package app wires the gatekeeper server runtime: config, logging, stores,
// HTTP routes, the session event stream, metrics and the background sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gatekeeper/cmd/identity"
	authapi "gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/revocation"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/auth/token"
	"gatekeeper/cmd/internal/clock"
	"gatekeeper/cmd/internal/realtime"
	"gatekeeper/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the stores and the HTTP server built on them.
type App struct {
	cfg Config
	log Logger
	clk clock.Real

	dbPool *pgxpool.Pool

	sessions *session.Store
	limiter  *ratelimit.Store
	revoked  *revocation.Registry
	csrf     *csrf.Manager
	tokens   *token.Manager

	auth    *authapi.Handler
	ws      *realtime.Gateway
	metrics *Metrics
	sweep   *sweeper

	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg, log); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	var err error
	a.sessions, err = session.NewStore(cfg.Session, session.WithClock(a.clk), session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	limits := cfg.Rate.Limits()
	limiterOpts := []ratelimit.Option{ratelimit.WithClock(a.clk)}
	for action, l := range limits {
		limiterOpts = append(limiterOpts, ratelimit.WithLimit(action, l))
	}
	a.limiter, err = ratelimit.NewStore(limits[ratelimit.ActionGeneral], limiterOpts...)
	if err != nil {
		return nil, err
	}

	a.revoked = revocation.New(a.clk)

	a.csrf, err = csrf.NewManager(cfg.CSRF, a.sessions, csrf.WithClock(a.clk), csrf.WithLogger(log))
	if err != nil {
		return nil, err
	}

	a.tokens, err = token.NewManager(cfg.Token)
	if err != nil {
		return nil, err
	}
	log.Info("token.key", "public_key_hex", a.tokens.PublicKeyHex(), "ephemeral", a.tokens.Ephemeral())

	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	dir, err := identity.ParseDirectory(cfg.AdminUsers, pw)
	if err != nil {
		return nil, err
	}
	log.Info("identity.loaded", "accounts", dir.Len())

	sinks, pool, err := newAuditSinks(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	a.dbPool = pool

	var obs authapi.Observer
	if cfg.MetricsEnabled {
		a.metrics = NewMetrics(a.sessions, a.revoked, a.csrf)
		obs = a.metrics
		a.sessions.OnTerminate(a.metrics.SessionEnded)
	}

	a.auth, err = authapi.NewHandler(log, cfg.Auth, authapi.Deps{
		Sessions: a.sessions,
		CSRF:     a.csrf,
		Limiter:  a.limiter,
		Revoked:  a.revoked,
		Tokens:   a.tokens,
		Identity: dir,
		Audit:    audit.NewRecorder(log, sinks...),
		Observer: obs,
		Clock:    a.clk,
	})
	if err != nil {
		a.closeDB()
		return nil, err
	}

	hub := realtime.NewHub(log, a.clk)
	a.sessions.OnTerminate(hub.SessionEnded)
	a.ws, err = realtime.NewGateway(log, cfg.WS, realtime.Deps{
		Hub:      hub,
		Sessions: a.sessions,
		Authenticate: func(r *http.Request) (session.Session, error) {
			p, err := a.auth.Authenticate(r)
			return p.Session, err
		},
		Deny:              a.auth.WriteAuthError,
		HeartbeatInterval: cfg.Auth.HeartbeatInterval,
	})
	if err != nil {
		a.closeDB()
		return nil, err
	}

	a.sweep = &sweeper{log: log, sessions: a.sessions, revoked: a.revoked, limiter: a.limiter}
	if a.metrics != nil {
		a.sweep.onSweep = a.metrics.Swept
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a)

	protected, err := WithOriginProtection(mux, cfg.TrustedOrigins, log)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	a.handler = WithRequestID(WithRequestLogging(WithSecurityHeaders(protected), log))

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the sweeper, and blocks until ctx ends or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweep.run(sweepCtx, a.clk.NewTicker(a.cfg.SweepInterval))

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbPool != nil,
		"metrics", a.metrics != nil,
		"inactivity_timeout", a.cfg.Session.InactivityTimeout,
		"heartbeat_interval", a.cfg.Auth.HeartbeatInterval,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeDB()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeDB()
		return err
	}

	a.closeDB()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
