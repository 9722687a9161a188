package session

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gatekeeper/cmd/internal/clock"
)

// Listener observes terminal transitions. It runs after the store lock is
// released, on the goroutine that caused the transition.
type Listener func(Session)

// Store keeps sessions keyed by id behind one mutex. No I/O happens under the lock.
type Store struct {
	cfg Config
	clk clock.Clock
	log *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore constructs an empty Store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:      cfg,
		clk:      clock.Real{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config returns the expiry policy.
func (s *Store) Config() Config { return s.cfg }

// OnTerminate registers fn for every Active -> terminal transition.
func (s *Store) OnTerminate(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Create starts an Active session for userID. With SingleActive enabled the
// user's other Active sessions are revoked as superseded.
func (s *Store) Create(userID string, role Role) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, ErrInvalidUser
	}
	role, ok := ParseRole(string(role))
	if !ok {
		return Session{}, ErrInvalidUser
	}

	id, err := newSessionID(s.cfg.IDBytes)
	if err != nil {
		return Session{}, err
	}

	now := s.clk.Now()

	s.mu.Lock()
	var ended []Session
	if s.cfg.SingleActive {
		for _, other := range s.sessions {
			if other.UserID != userID || other.State != StateActive {
				continue
			}
			if s.expireLocked(other, now) {
				ended = append(ended, *other)
				continue
			}
			revokeLocked(other, now, ReasonSuperseded)
			ended = append(ended, *other)
		}
	}
	sess := &Session{
		ID:         id,
		UserID:     userID,
		Role:       role,
		CreatedAt:  now,
		LastSeenAt: now,
		State:      StateActive,
	}
	s.sessions[id] = sess
	out := *sess
	listeners := s.listenersLocked(len(ended))
	s.mu.Unlock()

	s.notify(listeners, ended)
	s.log.Info("session.create", "session", out.ShortID(), "user_id", userID, "role", string(role), "superseded", len(ended))
	return out, nil
}

// Get returns the session, flipping it to Expired first if it timed out.
// It never refreshes LastSeenAt.
func (s *Store) Get(id string) (Session, error) {
	now := s.clk.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	var ended []Session
	if s.expireLocked(sess, now) {
		ended = append(ended, *sess)
	}
	out := *sess
	listeners := s.listenersLocked(len(ended))
	s.mu.Unlock()

	s.notify(listeners, ended)
	return out, stateErr(out.State)
}

// Heartbeat refreshes LastSeenAt of an Active session.
func (s *Store) Heartbeat(id string) (Session, error) {
	now := s.clk.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	var ended []Session
	if s.expireLocked(sess, now) {
		ended = append(ended, *sess)
	}
	if sess.State == StateActive {
		sess.LastSeenAt = now
	}
	out := *sess
	listeners := s.listenersLocked(len(ended))
	s.mu.Unlock()

	s.notify(listeners, ended)
	return out, stateErr(out.State)
}

// Terminate moves an Active session to Revoked. Terminating a session that is
// already terminal is a no-op.
func (s *Store) Terminate(id, reason string) error {
	now := s.clk.Now()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonLogout
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	var ended []Session
	if sess.State == StateActive {
		revokeLocked(sess, now, reason)
		ended = append(ended, *sess)
	}
	listeners := s.listenersLocked(len(ended))
	s.mu.Unlock()

	s.notify(listeners, ended)
	if len(ended) > 0 {
		s.log.Info("session.terminate", "session", ShortID(id), "reason", reason)
	}
	return nil
}

// CountActive returns the number of sessions that are Active and within the
// inactivity timeout at this instant. It does not mutate state.
func (s *Store) CountActive() int {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.State == StateActive && s.expiryReason(sess, now) == "" {
			n++
		}
	}
	return n
}

// CleanupExpired flips timed-out sessions to Expired and evicts terminal ones.
// Expired sessions are evicted immediately. Revoked sessions stay for one
// inactivity timeout after termination so late callers still get
// ErrSessionRevoked rather than ErrNotFound. Returns the number evicted.
func (s *Store) CleanupExpired() int {
	now := s.clk.Now()

	s.mu.Lock()
	var ended []Session
	evicted := 0
	for id, sess := range s.sessions {
		if s.expireLocked(sess, now) {
			ended = append(ended, *sess)
		}
		switch sess.State {
		case StateExpired:
			delete(s.sessions, id)
			evicted++
		case StateRevoked:
			if now.Sub(sess.TerminatedAt) > s.cfg.InactivityTimeout {
				delete(s.sessions, id)
				evicted++
			}
		}
	}
	listeners := s.listenersLocked(len(ended))
	s.mu.Unlock()

	s.notify(listeners, ended)
	if evicted > 0 || len(ended) > 0 {
		s.log.Debug("session.cleanup", "expired", len(ended), "evicted", evicted)
	}
	return evicted
}

// List returns a snapshot of all retained sessions ordered by creation time.
func (s *Store) List() []Session {
	return s.filter(func(*Session) bool { return true })
}

// ListByUser returns the retained sessions of userID ordered by creation time.
func (s *Store) ListByUser(userID string) []Session {
	return s.filter(func(sess *Session) bool { return sess.UserID == userID })
}

func (s *Store) filter(keep func(*Session) bool) []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, *sess)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// expiryReason returns why an Active session has timed out, or "".
func (s *Store) expiryReason(sess *Session, now time.Time) string {
	if now.Sub(sess.LastSeenAt) > s.cfg.InactivityTimeout {
		return ReasonExpired
	}
	if s.cfg.MaxLifetime > 0 && now.Sub(sess.CreatedAt) > s.cfg.MaxLifetime {
		return ReasonMaxLifetime
	}
	return ""
}

func (s *Store) expireLocked(sess *Session, now time.Time) bool {
	if sess.State != StateActive {
		return false
	}
	reason := s.expiryReason(sess, now)
	if reason == "" {
		return false
	}
	sess.State = StateExpired
	sess.TerminatedAt = now
	sess.Reason = reason
	return true
}

func revokeLocked(sess *Session, now time.Time, reason string) {
	sess.State = StateRevoked
	sess.TerminatedAt = now
	sess.Reason = reason
}

func (s *Store) listenersLocked(pending int) []Listener {
	if pending == 0 || len(s.listeners) == 0 {
		return nil
	}
	return append([]Listener(nil), s.listeners...)
}

func (s *Store) notify(listeners []Listener, ended []Session) {
	for _, sess := range ended {
		for _, fn := range listeners {
			fn(sess)
		}
	}
}

func stateErr(st State) error {
	switch st {
	case StateExpired:
		return ErrSessionExpired
	case StateRevoked:
		return ErrSessionRevoked
	default:
		return nil
	}
}
