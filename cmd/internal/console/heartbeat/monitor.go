package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/cmd/internal/clock"
)

// State of the monitored session.
type State uint8

const (
	StateActive State = iota
	StateLoggedOut
)

func (s State) String() string {
	if s == StateLoggedOut {
		return "logged_out"
	}
	return "active"
}

// Signal is a kind of user activity.
type Signal string

const (
	SignalPointer    Signal = "pointer"
	SignalKeyboard   Signal = "keyboard"
	SignalVisibility Signal = "visibility"
)

// Logout reasons reported to the server and to OnLogout.
const (
	ReasonInactivity = "inactivity"
	ReasonTabClosed  = "tab_closed"
)

// Authority is the server side of the session.
type Authority interface {
	// Heartbeat refreshes the session. ErrSessionEnded means it is gone for good.
	Heartbeat(ctx context.Context) error
	// Terminate ends the session with a reason.
	Terminate(ctx context.Context, reason string) error
}

// Config controls the monitor.
type Config struct {
	MaxInactivity     time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig matches the server defaults.
func DefaultConfig() Config {
	return Config{MaxInactivity: 5 * time.Minute, HeartbeatInterval: 30 * time.Second}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.MaxInactivity <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	if c.HeartbeatInterval >= c.MaxInactivity {
		return fmt.Errorf("%w: heartbeat interval must be shorter than max inactivity", ErrConfig)
	}
	return nil
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clk = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// OnLogout registers fn, called once with the reason when the monitor logs out.
func OnLogout(fn func(reason string)) Option {
	return func(m *Monitor) { m.onLogout = fn }
}

// Monitor tracks activity for one session. Safe for concurrent use: activity
// may be recorded from input goroutines while Run ticks.
type Monitor struct {
	cfg  Config
	auth Authority
	clk  clock.Clock
	log  *slog.Logger

	onLogout func(reason string)

	mu           sync.Mutex
	state        State
	reason       string
	lastActivity time.Time
	pending      bool
}

// NewMonitor constructs a Monitor in the Active state. Creation counts as activity.
func NewMonitor(cfg Config, auth Authority, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, fmt.Errorf("%w: authority is required", ErrConfig)
	}
	m := &Monitor{
		cfg:  cfg,
		auth: auth,
		clk:  clock.Real{},
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastActivity = m.clk.Now()
	return m, nil
}

// RecordActivity notes a user activity signal. Ignored after logout.
func (m *Monitor) RecordActivity(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return
	}
	m.lastActivity = m.clk.Now()
	m.pending = true
	m.log.Debug("heartbeat.activity", "signal", string(sig))
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why the monitor logged out, or "".
func (m *Monitor) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Idle returns the time since the last activity.
func (m *Monitor) Idle() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clk.Now().Sub(m.lastActivity)
}

// Tick runs one step of the state machine. A transient heartbeat failure is
// returned and the monitor stays Active; the next tick with activity retries.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.clk.Now()

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	idle := now.Sub(m.lastActivity)
	if idle > m.cfg.MaxInactivity {
		m.mu.Unlock()
		m.log.Info("heartbeat.idle_logout", "idle", idle)
		err := m.auth.Terminate(ctx, ReasonInactivity)
		if err != nil && !errors.Is(err, ErrSessionEnded) {
			m.log.Warn("heartbeat.terminate.fail", "err", err)
		}
		m.logout(ReasonInactivity)
		return nil
	}
	active := m.pending
	m.pending = false
	m.mu.Unlock()

	if !active {
		return nil
	}

	if err := m.auth.Heartbeat(ctx); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			m.log.Info("heartbeat.session_ended")
			m.logout("session_ended")
			return nil
		}
		m.mu.Lock()
		// Keep the activity so the next tick tries again.
		m.pending = true
		m.mu.Unlock()
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// SessionEnded moves to LoggedOut without calling the authority. Use it when
// the server reported the termination itself.
func (m *Monitor) SessionEnded(reason string) {
	m.logout(reason)
}

// Close is the tab-close path: best-effort termination, then LoggedOut. The
// termination may be lost; the server's inactivity timeout reclaims the
// session in that case.
func (m *Monitor) Close(ctx context.Context) error {
	if m.State() != StateActive {
		return nil
	}
	err := m.auth.Terminate(ctx, ReasonTabClosed)
	m.logout(ReasonTabClosed)
	if err != nil && !errors.Is(err, ErrSessionEnded) {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

// Run ticks until logout or ctx ends. It owns t and stops it. Transient
// heartbeat errors are logged and do not stop the loop.
func (m *Monitor) Run(ctx context.Context, t clock.Ticker) error {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if err := m.Tick(ctx); err != nil {
				if errors.Is(err, ErrLoggedOut) {
					return nil
				}
				m.log.Warn("heartbeat.tick.fail", "err", err)
			}
			if m.State() == StateLoggedOut {
				return nil
			}
		}
	}
}

func (m *Monitor) logout(reason string) {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	m.reason = reason
	fn := m.onLogout
	m.mu.Unlock()

	m.log.Info("heartbeat.logged_out", "reason", reason)
	if fn != nil {
		fn(reason)
	}
}
