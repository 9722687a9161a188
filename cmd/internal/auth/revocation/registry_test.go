package revocation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"gatekeeper/cmd/internal/clock"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRevoke_IsRevokedUntilNaturalExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	r := New(clk)

	require.False(t, r.IsRevoked("tok-1"))
	require.NoError(t, r.Revoke("tok-1", t0.Add(time.Hour)))
	require.True(t, r.IsRevoked("tok-1"))
	require.Equal(t, 1, r.Count())

	clk.Advance(time.Hour)
	require.False(t, r.IsRevoked("tok-1"))
	require.Equal(t, 1, r.Count())

	require.Equal(t, 1, r.PruneExpired())
	require.Equal(t, 0, r.Count())
}

func TestRevoke_Twice(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	r := New(clk)

	require.NoError(t, r.Revoke("tok-1", t0.Add(2*time.Hour)))
	require.NoError(t, r.Revoke("tok-1", t0.Add(time.Hour)))
	require.Equal(t, 1, r.Count())

	clk.Advance(90 * time.Minute)
	require.True(t, r.IsRevoked("tok-1"))
}

func TestRevoke_InvalidID(t *testing.T) {
	t.Parallel()

	r := New(nil)
	require.ErrorIs(t, r.Revoke(" ", t0), ErrInvalidTokenID)
	require.ErrorIs(t, r.Track("sid", "", t0), ErrInvalidTokenID)
}

func TestPruneExpired_KeepsLive(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	r := New(clk)
	require.NoError(t, r.Revoke("short", t0.Add(time.Minute)))
	require.NoError(t, r.Revoke("long", t0.Add(time.Hour)))

	clk.Advance(2 * time.Minute)
	require.Equal(t, 1, r.PruneExpired())
	require.Equal(t, 0, r.PruneExpired())
	require.True(t, r.IsRevoked("long"))
}

func TestRevokeSession(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	r := New(clk)

	require.NoError(t, r.Track("sid-a", "a1", t0.Add(time.Hour)))
	require.NoError(t, r.Track("sid-a", "a2", t0.Add(time.Minute)))
	require.NoError(t, r.Track("sid-b", "b1", t0.Add(time.Hour)))

	clk.Advance(2 * time.Minute)
	require.Equal(t, 1, r.RevokeSession("sid-a"))
	require.True(t, r.IsRevoked("a1"))
	require.False(t, r.IsRevoked("a2"))
	require.False(t, r.IsRevoked("b1"))

	require.Equal(t, 0, r.RevokeSession("sid-a"))
	require.Equal(t, 0, r.RevokeSession("unknown"))
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()

	r := New(clock.NewManual(t0))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("tok-%d-%d", i, j)
				_ = r.Revoke(id, t0.Add(time.Hour))
				_ = r.IsRevoked(id)
				_ = r.PruneExpired()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1600, r.Count())
}
