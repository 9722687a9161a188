package tabs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/internal/clock"
)

// State of one tab with respect to its session.
type State uint8

const (
	// StateUnknown: no verdict yet, or storage failed. Never treated as owner.
	StateUnknown State = iota
	StateOwner
	StateConflict
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOwner:
		return "owner"
	case StateConflict:
		return "conflict"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// staleAfter is how many intervals a dead peer's record survives before a tick
// deletes it.
const staleAfter = 3

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clk = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(co *Coordinator) {
		if log != nil {
			co.log = log
		}
	}
}

// WithTabID fixes the tab id instead of minting a ULID.
func WithTabID(id string) Option {
	return func(co *Coordinator) { co.tabID = id }
}

// OnChange registers fn, called after every state transition. A move to
// Conflict is the cue to show the conflict prompt with a close-tab action.
func OnChange(fn func(from, to State)) Option {
	return func(co *Coordinator) { co.onChange = fn }
}

// Coordinator runs the ownership check of one tab.
type Coordinator struct {
	sessionID string
	key       string
	tabID     string
	interval  time.Duration
	storage   Storage
	clk       clock.Clock
	log       *slog.Logger
	onChange  func(from, to State)

	mu    sync.Mutex
	state State
	peers int
}

// NewCoordinator constructs a Coordinator for sessionID. interval is the
// heartbeat cadence; peers are alive while their record is within one interval.
func NewCoordinator(sessionID string, interval time.Duration, storage Storage, opts ...Option) (*Coordinator, error) {
	if sessionID == "" || storage == nil {
		return nil, fmt.Errorf("%w: session id and storage are required", ErrConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrConfig)
	}
	c := &Coordinator{
		sessionID: sessionID,
		key:       Key(sessionID),
		interval:  interval,
		storage:   storage,
		clk:       clock.Real{},
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tabID == "" {
		id, err := ids.NewULID(c.clk.Now())
		if err != nil {
			return nil, err
		}
		c.tabID = id
	}
	return c, nil
}

// TabID returns this tab's id.
func (c *Coordinator) TabID() string { return c.tabID }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOwner reports whether this tab currently owns the session.
func (c *Coordinator) IsOwner() bool { return c.State() == StateOwner }

// Peers returns the number of other live tabs seen on the last tick.
func (c *Coordinator) Peers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers
}

// Tick writes this tab's record, reads every record of the session back and
// re-evaluates ownership. Any storage failure leaves the tab in Unknown.
func (c *Coordinator) Tick(ctx context.Context) (State, error) {
	if c.State() == StateClosed {
		return StateClosed, ErrClosed
	}
	now := c.clk.Now()

	own := Record{TabID: c.tabID, SessionID: c.sessionID, Timestamp: now}
	if err := c.storage.Put(ctx, c.key, own); err != nil {
		return c.fail("put", err)
	}
	recs, err := c.storage.List(ctx, c.key)
	if err != nil {
		return c.fail("list", err)
	}

	seenSelf := false
	owner := c.tabID
	peers := 0
	var stale []string
	for _, r := range recs {
		if r.TabID == c.tabID {
			seenSelf = r.Timestamp.Equal(now)
			continue
		}
		if r.SessionID != c.sessionID {
			continue
		}
		age := now.Sub(r.Timestamp)
		if age < 0 {
			age = -age
		}
		if age > c.interval {
			if age > staleAfter*c.interval {
				stale = append(stale, r.TabID)
			}
			continue
		}
		peers++
		if r.TabID < owner {
			owner = r.TabID
		}
	}
	if !seenSelf {
		return c.fail("read_after_write", ErrReadAfterWrite)
	}

	for _, id := range stale {
		if err := c.storage.Delete(ctx, c.key, id); err != nil {
			c.log.Debug("tabs.stale.delete.fail", "tab", id, "err", err)
		}
	}

	next := StateConflict
	if owner == c.tabID {
		next = StateOwner
	}
	c.transition(next, peers)
	return next, nil
}

// CloseTab removes this tab's record and moves to Closed. It is the action
// offered by the conflict prompt and also runs on normal tab shutdown.
func (c *Coordinator) CloseTab(ctx context.Context) error {
	if c.State() == StateClosed {
		return nil
	}
	err := c.storage.Delete(ctx, c.key, c.tabID)
	c.transition(StateClosed, 0)
	if err != nil {
		return fmt.Errorf("tabs close: %w", err)
	}
	return nil
}

// Run ticks until the tab closes or ctx ends. It owns t and stops it.
func (c *Coordinator) Run(ctx context.Context, t clock.Ticker) error {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if _, err := c.Tick(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				c.log.Warn("tabs.tick.fail", "tab", c.tabID, "err", err)
			}
		}
	}
}

func (c *Coordinator) fail(step string, err error) (State, error) {
	c.log.Warn("tabs.storage.fail", "tab", c.tabID, "step", step, "err", err)
	c.transition(StateUnknown, 0)
	return StateUnknown, err
}

func (c *Coordinator) transition(next State, peers int) {
	c.mu.Lock()
	prev := c.state
	if prev == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.peers = peers
	fn := c.onChange
	c.mu.Unlock()

	if prev == next {
		return
	}
	c.log.Info("tabs.state", "tab", c.tabID, "from", prev.String(), "to", next.String(), "peers", peers)
	if fn != nil {
		fn(prev, next)
	}
}
