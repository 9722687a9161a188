package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"

	"gatekeeper/cmd/internal/clock"
)

// Well-known action categories.
const (
	ActionAuthentication = "authentication"
	ActionHeartbeat      = "heartbeat"
	ActionGeneral        = "general"
)

// pruneEvery triggers an opportunistic prune after this many calls.
const pruneEvery = 1024

// Limit is the budget of one action category.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Validate reports ErrInvalidLimit for non-positive values.
func (l Limit) Validate() error {
	if l.MaxRequests <= 0 || l.Window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Key identifies one bucket.
type Key struct {
	Identity string
	Action   string
}

func (k Key) normalized() (Key, bool) {
	k.Identity = strings.TrimSpace(k.Identity)
	k.Action = strings.ToLower(strings.TrimSpace(k.Action))
	if k.Identity == "" || k.Action == "" {
		return Key{}, false
	}
	return k, true
}

// Result is the outcome of CheckAndConsume.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the window resets, rounded up to whole seconds.
// It is zero for allowed results.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Err returns a LimitError for denied results and nil otherwise.
func (r Result) Err(action string, now time.Time) error {
	if r.Allowed {
		return nil
	}
	return LimitError{Action: action, RetryAfter: r.RetryAfter(now)}
}

type bucket struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// Store holds one bucket per key behind a single mutex. Operations are map
// lookups and counter increments, so a coarse lock is enough at this scale.
type Store struct {
	clk clock.Clock

	mu       sync.Mutex
	limits   map[string]Limit
	fallback Limit
	buckets  map[Key]*bucket
	calls    uint64
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

// WithLimit sets the budget for one action category.
func WithLimit(action string, l Limit) Option {
	return func(s *Store) {
		action = strings.ToLower(strings.TrimSpace(action))
		if action == "" || l.Validate() != nil {
			return
		}
		s.limits[action] = l
	}
}

// NewStore constructs a Store. fallback applies to actions without an explicit limit.
func NewStore(fallback Limit, opts ...Option) (*Store, error) {
	if err := fallback.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		clk:      clock.Real{},
		limits:   make(map[string]Limit),
		fallback: fallback,
		buckets:  make(map[Key]*bucket),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// LimitFor returns the budget applied to action.
func (s *Store) LimitFor(action string) Limit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitLocked(strings.ToLower(strings.TrimSpace(action)))
}

func (s *Store) limitLocked(action string) Limit {
	if l, ok := s.limits[action]; ok {
		return l
	}
	return s.fallback
}

// CheckAndConsume counts one request against key and reports whether it fits
// the budget of the current window. Denied requests still count, so a client
// hammering the endpoint stays denied until the window rolls over.
func (s *Store) CheckAndConsume(key Key) (Result, error) {
	k, ok := key.normalized()
	if !ok {
		return Result{}, ErrInvalidKey
	}

	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	lim := s.limitLocked(k.Action)
	start := windowStart(now, lim.Window)

	b := s.buckets[k]
	if b == nil {
		b = &bucket{}
		s.buckets[k] = b
	}
	if !b.windowStart.Equal(start) || b.window != lim.Window {
		b.windowStart = start
		b.window = lim.Window
		b.count = 0
	}
	if b.count <= lim.MaxRequests {
		b.count++
	}

	s.calls++
	if s.calls%pruneEvery == 0 {
		s.pruneLocked(now)
	}

	remaining := lim.MaxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   b.count <= lim.MaxRequests,
		Limit:     lim.MaxRequests,
		Remaining: remaining,
		ResetAt:   start.Add(lim.Window),
	}, nil
}

// Reset drops the bucket for key.
func (s *Store) Reset(key Key) {
	k, ok := key.normalized()
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.buckets, k)
	s.mu.Unlock()
}

// Prune removes buckets whose window has ended and returns how many were removed.
func (s *Store) Prune() int {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *Store) pruneLocked(now time.Time) int {
	removed := 0
	for k, b := range s.buckets {
		if !now.Before(b.windowStart.Add(b.window)) {
			delete(s.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// windowStart aligns now to the epoch: floor(now / window) * window.
func windowStart(now time.Time, window time.Duration) time.Time {
	ns := now.UnixNano()
	w := int64(window)
	start := ns - ns%w
	if ns < 0 && ns%w != 0 {
		start -= w
	}
	return time.Unix(0, start).In(now.Location())
}
