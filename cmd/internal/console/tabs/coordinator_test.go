package tabs

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/cmd/internal/clock"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const interval = 30 * time.Second

func newTab(t *testing.T, store Storage, clk clock.Clock, id string, opts ...Option) *Coordinator {
	t.Helper()
	all := append([]Option{WithClock(clk), WithTabID(id)}, opts...)
	c, err := NewCoordinator("sess-1", interval, store, all...)
	require.NoError(t, err)
	return c
}

func TestCoordinator_SingleTabOwns(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	c, err := NewCoordinator("sess-1", interval, NewMemoryStorage(), WithClock(clk))
	require.NoError(t, err)
	require.Len(t, c.TabID(), 26)
	require.Equal(t, StateUnknown, c.State())

	st, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateOwner, st)
	require.True(t, c.IsOwner())
	require.Zero(t, c.Peers())
}

func TestCoordinator_SmallestIDWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := NewMemoryStorage()
	a := newTab(t, store, clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	b := newTab(t, store, clk, "01BBBBBBBBBBBBBBBBBBBBBBBB")

	// b ticks first and briefly believes it is alone.
	st, err := b.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateOwner, st)

	clk.Advance(time.Second)
	st, err = a.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateOwner, st)
	require.Equal(t, 1, a.Peers())

	clk.Advance(time.Second)
	st, err = b.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateConflict, st)

	owners := 0
	for _, c := range []*Coordinator{a, b} {
		if c.IsOwner() {
			owners++
		}
	}
	require.Equal(t, 1, owners)
}

func TestCoordinator_StalePeerIgnoredThenPruned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := NewMemoryStorage()
	old := newTab(t, store, clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	_, err := old.Tick(ctx)
	require.NoError(t, err)

	me := newTab(t, store, clk, "01BBBBBBBBBBBBBBBBBBBBBBBB")

	clk.Advance(interval)
	st, err := me.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateConflict, st, "peer exactly one interval old is alive")

	clk.Advance(time.Millisecond)
	st, err = me.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateOwner, st)

	recs, err := store.List(ctx, Key("sess-1"))
	require.NoError(t, err)
	require.Len(t, recs, 2, "dead peer kept until it is well past its interval")

	clk.Advance(staleAfter * interval)
	_, err = me.Tick(ctx)
	require.NoError(t, err)
	recs, err = store.List(ctx, Key("sess-1"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, me.TabID(), recs[0].TabID)
}

func TestCoordinator_OtherSessionsDoNotCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := NewMemoryStorage()
	require.NoError(t, store.Put(ctx, Key("sess-1"), Record{TabID: "00000000000000000000000000", SessionID: "sess-2", Timestamp: t0}))

	me := newTab(t, store, clk, "01BBBBBBBBBBBBBBBBBBBBBBBB")
	st, err := me.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateOwner, st)
}

type failingStorage struct {
	Storage
	putErr  error
	listErr error
	drop    bool
}

func (f *failingStorage) Put(ctx context.Context, key string, rec Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.drop {
		return nil
	}
	return f.Storage.Put(ctx, key, rec)
}

func (f *failingStorage) List(ctx context.Context, key string) ([]Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Storage.List(ctx, key)
}

func TestCoordinator_StorageFailureIsNotOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	boom := errors.New("storage down")
	store := &failingStorage{Storage: NewMemoryStorage()}
	c := newTab(t, store, clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")

	_, err := c.Tick(ctx)
	require.NoError(t, err)
	require.True(t, c.IsOwner())

	store.putErr = boom
	st, err := c.Tick(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateUnknown, st)
	require.False(t, c.IsOwner())

	store.putErr = nil
	store.listErr = boom
	_, err = c.Tick(ctx)
	require.ErrorIs(t, err, boom)
	require.False(t, c.IsOwner())
}

func TestCoordinator_ReadAfterWriteMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := &failingStorage{Storage: NewMemoryStorage()}
	c := newTab(t, store, clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	_, err := c.Tick(ctx)
	require.NoError(t, err)

	// Writes silently vanish: the read-back shows the previous timestamp.
	store.drop = true
	clk.Advance(time.Second)
	st, err := c.Tick(ctx)
	require.ErrorIs(t, err, ErrReadAfterWrite)
	require.Equal(t, StateUnknown, st)
}

func TestCoordinator_CloseTab(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := NewMemoryStorage()

	var transitions [][2]State
	a := newTab(t, store, clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	b := newTab(t, store, clk, "01BBBBBBBBBBBBBBBBBBBBBBBB", OnChange(func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	}))

	_, err := a.Tick(ctx)
	require.NoError(t, err)
	_, err = b.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, StateConflict, b.State())

	require.NoError(t, b.CloseTab(ctx))
	require.Equal(t, StateClosed, b.State())
	require.NoError(t, b.CloseTab(ctx))

	_, err = b.Tick(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, [][2]State{
		{StateUnknown, StateConflict},
		{StateConflict, StateClosed},
	}, transitions)

	recs, err := store.List(ctx, Key("sess-1"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, a.TabID(), recs[0].TabID)

	// Owner closes; the remaining tab would take over on its next tick.
	require.NoError(t, a.CloseTab(ctx))
	recs, err = store.List(ctx, Key("sess-1"))
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestCoordinator_RunStopsAfterClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewManual(t0)
	c := newTab(t, NewMemoryStorage(), clk, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	tick := clock.NewManualTicker()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, tick) }()

	require.True(t, tick.Fire(clk.Now()))
	require.Eventually(t, c.IsOwner, time.Second, 5*time.Millisecond)

	require.NoError(t, c.CloseTab(ctx))
	require.True(t, tick.Fire(clk.Now()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewCoordinator("", interval, NewMemoryStorage())
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewCoordinator("s", 0, NewMemoryStorage())
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewCoordinator("s", interval, nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestKey_HidesSessionID(t *testing.T) {
	t.Parallel()

	k := Key("secret-session")
	require.NotContains(t, k, "secret-session")
	require.Equal(t, k, Key("secret-session"))
	require.NotEqual(t, k, Key("other"))
}
