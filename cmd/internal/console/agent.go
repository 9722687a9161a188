// Package console runs the client side of a session: one Agent per tab,
// composing the tab coordinator and the heartbeat monitor on a single ticker.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gatekeeper/cmd/internal/clock"
	"gatekeeper/cmd/internal/console/heartbeat"
	"gatekeeper/cmd/internal/console/tabs"
)

// ErrStopped is returned by Tick once the tab is closed or logged out.
var ErrStopped = errors.New("console agent stopped")

// Status is a point-in-time view of an Agent.
type Status struct {
	TabID   string
	Tab     tabs.State
	Session heartbeat.State
	Reason  string
	Idle    time.Duration
	Peers   int
}

// Agent drives one tab. Only the owning tab heartbeats and enforces the idle
// limit; a tab in Conflict records activity but stays passive until it owns
// the session or is closed.
type Agent struct {
	tabs    *tabs.Coordinator
	monitor *heartbeat.Monitor
	log     *slog.Logger
}

// NewAgent composes co and m. Both must belong to the same session.
func NewAgent(co *tabs.Coordinator, m *heartbeat.Monitor, log *slog.Logger) (*Agent, error) {
	if co == nil || m == nil {
		return nil, errors.New("console: coordinator and monitor are required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{tabs: co, monitor: m, log: log}, nil
}

// Activity records a user activity signal.
func (a *Agent) Activity(sig heartbeat.Signal) {
	a.monitor.RecordActivity(sig)
}

// Status reports the tab and session state.
func (a *Agent) Status() Status {
	return Status{
		TabID:   a.tabs.TabID(),
		Tab:     a.tabs.State(),
		Session: a.monitor.State(),
		Reason:  a.monitor.Reason(),
		Idle:    a.monitor.Idle(),
		Peers:   a.tabs.Peers(),
	}
}

// Tick runs the coordinator, then the monitor if this tab owns the session.
// The coordinator writes first so the monitor never acts on a stale verdict.
func (a *Agent) Tick(ctx context.Context) error {
	if a.monitor.State() == heartbeat.StateLoggedOut {
		return ErrStopped
	}
	st, err := a.tabs.Tick(ctx)
	if err != nil {
		if errors.Is(err, tabs.ErrClosed) {
			return ErrStopped
		}
		return fmt.Errorf("tabs: %w", err)
	}
	if st != tabs.StateOwner {
		return nil
	}
	if err := a.monitor.Tick(ctx); err != nil {
		if errors.Is(err, heartbeat.ErrLoggedOut) {
			return ErrStopped
		}
		return err
	}
	if a.monitor.State() == heartbeat.StateLoggedOut {
		_ = a.tabs.CloseTab(ctx)
	}
	return nil
}

// Run ticks until the agent stops or ctx ends. It owns t and stops it.
func (a *Agent) Run(ctx context.Context, t clock.Ticker) error {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if err := a.Tick(ctx); err != nil {
				if errors.Is(err, ErrStopped) {
					return nil
				}
				a.log.Warn("console.tick.fail", "err", err)
			}
			if a.stopped() {
				return nil
			}
		}
	}
}

// SessionEnded handles a termination pushed by the server.
func (a *Agent) SessionEnded(ctx context.Context, reason string) {
	a.monitor.SessionEnded(reason)
	if err := a.tabs.CloseTab(ctx); err != nil {
		a.log.Warn("console.close_tab.fail", "err", err)
	}
}

// Close is the tab-close path. The last live tab of a session terminates it;
// with live peers the tab only withdraws its record so a peer takes over.
func (a *Agent) Close(ctx context.Context) error {
	var termErr error
	if a.tabs.IsOwner() && a.tabs.Peers() == 0 {
		termErr = a.monitor.Close(ctx)
	}
	if err := a.tabs.CloseTab(ctx); err != nil {
		return errors.Join(termErr, err)
	}
	return termErr
}

func (a *Agent) stopped() bool {
	return a.tabs.State() == tabs.StateClosed || a.monitor.State() == heartbeat.StateLoggedOut
}
