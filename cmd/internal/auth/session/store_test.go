package session

import (
	"sync"
	"testing"
	"time"

	"gatekeeper/cmd/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, mutate func(*Config)) (*Store, *clock.Manual) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InactivityTimeout = 300000 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := NewStore(cfg, WithClock(clk))
	require.NoError(t, err)
	return s, clk
}

func TestCreate(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, nil)

	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, StateActive, sess.State)
	require.Equal(t, clk.Now(), sess.LastSeenAt)
	require.Equal(t, clk.Now(), sess.CreatedAt)
	require.GreaterOrEqual(t, len(sess.ID), 43)

	other, err := s.Create("user-2", RoleEditor)
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, other.ID)
	require.Equal(t, 2, s.CountActive())
}

func TestCreate_InvalidInput(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, nil)

	_, err := s.Create("  ", RoleAdmin)
	require.ErrorIs(t, err, ErrInvalidUser)

	_, err = s.Create("user-1", Role("root"))
	require.ErrorIs(t, err, ErrInvalidUser)
}

func TestCreate_NormalizesRole(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, nil)

	sess, err := s.Create("user-1", Role(" Admin "))
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, sess.Role)
	require.True(t, sess.Role.Elevated())

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, got.Role)
}

func TestCreate_SingleActiveSupersedes(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, nil)

	var ended []Session
	s.OnTerminate(func(sess Session) { ended = append(ended, sess) })

	first, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	second, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	_, err = s.Heartbeat(first.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, err = s.Heartbeat(second.ID)
	require.NoError(t, err)

	require.Len(t, ended, 1)
	require.Equal(t, first.ID, ended[0].ID)
	require.Equal(t, ReasonSuperseded, ended[0].Reason)
	require.Equal(t, 1, s.CountActive())
}

func TestCreate_MultipleSessionsWhenEnforcementOff(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, func(c *Config) { c.SingleActive = false })

	_, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	_, err = s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	require.Equal(t, 2, s.CountActive())
	require.Len(t, s.ListByUser("user-1"), 2)
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, nil)
	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	clk.Advance(4 * time.Minute)
	got, err := s.Heartbeat(sess.ID)
	require.NoError(t, err)
	require.Equal(t, clk.Now(), got.LastSeenAt)

	// Another 4 minutes is fine because the heartbeat reset the idle clock.
	clk.Advance(4 * time.Minute)
	_, err = s.Heartbeat(sess.ID)
	require.NoError(t, err)
}

func TestHeartbeat_Errors(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, nil)

	_, err := s.Heartbeat("missing")
	require.ErrorIs(t, err, ErrNotFound)

	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	clk.Advance(300001 * time.Millisecond)

	got, err := s.Heartbeat(sess.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, StateExpired, got.State)
	require.Equal(t, ReasonExpired, got.Reason)
	require.True(t, IsTerminal(err))
}

func TestTerminate_ThenHeartbeatFailsRevoked(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, nil)
	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, s.Terminate(sess.ID, ReasonLogout))
	require.NoError(t, s.Terminate(sess.ID, ReasonLogout))

	_, err = s.Heartbeat(sess.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)

	got, err := s.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)
	require.Equal(t, StateRevoked, got.State)
	require.Equal(t, ReasonLogout, got.Reason)

	require.ErrorIs(t, s.Terminate("missing", ReasonLogout), ErrNotFound)
}

func TestTerminate_NotifiesOnce(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, nil)
	calls := 0
	s.OnTerminate(func(Session) { calls++ })

	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, s.Terminate(sess.ID, ReasonAdmin))
	require.NoError(t, s.Terminate(sess.ID, ReasonAdmin))

	require.Equal(t, 1, calls)
}

func TestCleanupExpired_Boundary(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, func(c *Config) { c.SingleActive = false })
	start := clk.Now()

	stale, err := s.Create("user-stale", RoleAdmin)
	require.NoError(t, err)

	clk.Set(start.Add(2 * time.Millisecond))
	fresh, err := s.Create("user-fresh", RoleAdmin)
	require.NoError(t, err)

	// stale: now - lastSeenAt = 300001ms; fresh: 299999ms.
	clk.Set(start.Add(300001 * time.Millisecond))

	require.Equal(t, 1, s.CleanupExpired())
	require.Equal(t, 1, s.CountActive())

	_, err = s.Get(stale.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StateActive, got.State)
}

func TestCleanupExpired_Idempotent(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, func(c *Config) { c.SingleActive = false })
	for _, u := range []string{"a", "b", "c"} {
		_, err := s.Create(u, RoleEditor)
		require.NoError(t, err)
	}
	clk.Advance(10 * time.Minute)

	require.Equal(t, 3, s.CleanupExpired())
	require.Equal(t, 0, s.CleanupExpired())
	require.Equal(t, 0, s.CountActive())
}

func TestCleanupExpired_RevokedTombstone(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, nil)
	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, s.Terminate(sess.ID, ReasonLogout))

	require.Equal(t, 0, s.CleanupExpired())
	_, err = s.Heartbeat(sess.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)

	clk.Advance(5*time.Minute + time.Millisecond)
	require.Equal(t, 1, s.CleanupExpired())
	_, err = s.Heartbeat(sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMaxLifetime(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, func(c *Config) { c.MaxLifetime = 10 * time.Minute })
	sess, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clk.Advance(4 * time.Minute)
		_, err = s.Heartbeat(sess.ID)
		if i < 2 {
			require.NoError(t, err)
		}
	}
	require.ErrorIs(t, err, ErrSessionExpired)

	got, _ := s.Get(sess.ID)
	require.Equal(t, ReasonMaxLifetime, got.Reason)
}

func TestCountActive_DoesNotCountTimedOut(t *testing.T) {
	t.Parallel()

	s, clk := newTestStore(t, nil)
	_, err := s.Create("user-1", RoleAdmin)
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	require.Equal(t, 0, s.CountActive())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero timeout", mutate: func(c *Config) { c.InactivityTimeout = 0 }},
		{name: "negative lifetime", mutate: func(c *Config) { c.MaxLifetime = -time.Second }},
		{name: "lifetime shorter than timeout", mutate: func(c *Config) { c.MaxLifetime = time.Minute }},
		{name: "short ids", mutate: func(c *Config) { c.IDBytes = 8 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestStore_ConcurrentHeartbeatAndCleanup(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, func(c *Config) { c.SingleActive = false })
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		sess, err := s.Create("user", RoleEditor)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Heartbeat(id)
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			_ = s.CleanupExpired()
			_ = s.CountActive()
		}
	}()
	wg.Wait()

	require.Equal(t, 20, s.CountActive())
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	r, ok := ParseRole(" ADMIN ")
	require.True(t, ok)
	require.Equal(t, RoleAdmin, r)
	require.True(t, r.Elevated())
	require.False(t, RoleEditor.Elevated())

	_, ok = ParseRole("viewer")
	require.False(t, ok)
}
