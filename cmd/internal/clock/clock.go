// Package clock is the scheduling seam shared by the server stores and the console.
//
// Stores read time through Clock so tests can pin it; the console state machines
// consume discrete ticks from a Ticker so a test can drive them one tick at a time.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Ticker produces discrete tick events.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock (UTC).
type Real struct{}

// Now returns time.Now in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// NewTicker returns a Ticker backed by time.Ticker.
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// ManualTicker is a Ticker whose ticks are injected by the caller.
type ManualTicker struct {
	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewManualTicker returns a ticker with a small buffer so Fire does not block
// while the consumer is still handling the previous tick.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:      make(chan time.Time, 8),
		stopped: make(chan struct{}),
	}
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop marks the ticker as stopped. Fire becomes a no-op.
func (t *ManualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Fire delivers one tick at the given time. It reports false if the ticker is stopped.
func (t *ManualTicker) Fire(at time.Time) bool {
	select {
	case <-t.stopped:
		return false
	default:
	}
	select {
	case t.ch <- at:
		return true
	case <-t.stopped:
		return false
	}
}
