package app

import (
	"context"
	"testing"
	"time"

	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/revocation"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/clock"

	"github.com/stretchr/testify/require"
)

func newTestSweeper(t *testing.T, clk *clock.Manual) *sweeper {
	t.Helper()

	sessions, err := session.NewStore(session.DefaultConfig(), session.WithClock(clk))
	require.NoError(t, err)
	limiter, err := ratelimit.NewStore(ratelimit.Limit{MaxRequests: 5, Window: time.Minute}, ratelimit.WithClock(clk))
	require.NoError(t, err)

	return &sweeper{
		log:      discardLogger(),
		sessions: sessions,
		revoked:  revocation.New(clk),
		limiter:  limiter,
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newTestSweeper(t, clk)

	_, err := s.sessions.Create("alice", session.RoleEditor)
	require.NoError(t, err)
	require.NoError(t, s.revoked.Revoke("tok-1", clk.Now().Add(time.Minute)))
	_, err = s.limiter.CheckAndConsume(ratelimit.Key{Identity: "1.2.3.4", Action: ratelimit.ActionGeneral})
	require.NoError(t, err)

	var seen []SweepResult
	s.onSweep = func(r SweepResult) { seen = append(seen, r) }

	require.Equal(t, SweepResult{}, s.sweepOnce())

	clk.Advance(5*time.Minute + time.Millisecond)
	r := s.sweepOnce()
	require.Equal(t, 1, r.Sessions)
	require.Equal(t, 1, r.Tokens)
	require.Equal(t, 1, r.Buckets)

	require.Equal(t, SweepResult{}, s.sweepOnce())
	require.Len(t, seen, 3)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newTestSweeper(t, clk)

	passes := make(chan SweepResult, 4)
	s.onSweep = func(r SweepResult) { passes <- r }

	ticker := clock.NewManualTicker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.run(ctx, ticker)
		close(done)
	}()

	require.True(t, ticker.Fire(clk.Now()))
	select {
	case <-passes:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not trigger a sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
