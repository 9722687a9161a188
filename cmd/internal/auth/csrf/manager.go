package csrf

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/clock"
	"gatekeeper/cmd/security/token"
)

// Sessions is the view of the session store the manager binds tokens to.
type Sessions interface {
	Get(id string) (session.Session, error)
}

// Health summarizes validation outcomes.
type Health struct {
	Healthy     bool    `json:"healthy"`
	IssuedCount uint64  `json:"issuedCount"`
	FailureRate float64 `json:"failureRate"`
	LiveTokens  int     `json:"liveTokens"`
}

type entry struct {
	digest   string
	issuedAt time.Time
}

// Manager issues and validates tokens.
type Manager struct {
	cfg      Config
	sessions Sessions
	hasher   token.Hasher
	gen      token.Generator
	clk      clock.Clock
	log      *slog.Logger

	mu          sync.Mutex
	tokens      map[string]entry
	issued      uint64
	validations uint64
	failures    uint64
	entropyErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = clock.OrReal(c) }
}

// WithEntropy overrides the random source.
func WithEntropy(r io.Reader) Option {
	return func(m *Manager) { m.gen = token.NewGenerator(r, m.cfg.TokenBytes) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager builds a Manager bound to sessions.
func NewManager(cfg Config, sessions Sessions, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrConfig)
	}
	h, err := token.NewHasher(cfg.HMACKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	m := &Manager{
		cfg:      cfg,
		sessions: sessions,
		hasher:   h,
		gen:      token.NewGenerator(nil, cfg.TokenBytes),
		clk:      clock.Real{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokens:   make(map[string]entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Header returns the request header that carries the token.
func (m *Manager) Header() string { return m.cfg.Header }

// Issue binds a fresh token to an Active session, replacing any prior token.
// The session's own error is returned for unknown or terminal sessions.
func (m *Manager) Issue(sessionID string) (string, error) {
	if _, err := m.sessions.Get(sessionID); err != nil {
		m.Drop(sessionID)
		return "", err
	}

	tok, err := m.gen.New()

	m.mu.Lock()
	if err != nil {
		m.entropyErr = err
		m.mu.Unlock()
		return "", err
	}
	m.entropyErr = nil
	m.tokens[sessionID] = entry{digest: m.hasher.Digest(tok), issuedAt: m.clk.Now()}
	m.issued++
	m.mu.Unlock()

	// A termination between the first check and the store ran its Drop too early.
	if _, err := m.sessions.Get(sessionID); err != nil {
		m.Drop(sessionID)
		return "", err
	}
	return tok, nil
}

// Validate reports whether presented is the live token of an Active session.
func (m *Manager) Validate(sessionID, presented string) bool {
	_, sessErr := m.sessions.Get(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.validations++
	ok, why := m.checkLocked(sessionID, presented, sessErr)
	if !ok {
		m.failures++
		m.log.Debug("csrf.validate.fail", "session", session.ShortID(sessionID), "reason", why)
	}
	return ok
}

func (m *Manager) checkLocked(sessionID, presented string, sessErr error) (bool, string) {
	if sessErr != nil {
		delete(m.tokens, sessionID)
		return false, "session"
	}
	if presented == "" {
		return false, "missing"
	}
	e, ok := m.tokens[sessionID]
	if !ok {
		return false, "not_issued"
	}
	if !m.hasher.Matches(presented, e.digest) {
		return false, "mismatch"
	}
	return true, ""
}

// Drop forgets the token of sessionID.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	delete(m.tokens, sessionID)
	m.mu.Unlock()
}

// IssuedAt returns when the live token of sessionID was issued.
func (m *Manager) IssuedAt(sessionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tokens[sessionID]
	return e.issuedAt, ok
}

// HealthStatus reports unhealthy when the random source last failed or, once
// MinSamples validations have run, the failure rate exceeds MaxFailureRate.
func (m *Manager) HealthStatus() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		Healthy:     m.entropyErr == nil,
		IssuedCount: m.issued,
		LiveTokens:  len(m.tokens),
	}
	if m.validations > 0 {
		h.FailureRate = float64(m.failures) / float64(m.validations)
	}
	if m.validations >= uint64(m.cfg.MinSamples) && h.FailureRate > m.cfg.MaxFailureRate {
		h.Healthy = false
	}
	return h
}
