package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// TestSeenKeyExpires ensures TTLs follow the injected clock.
func TestSeenKeyExpires(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewStoreWithClock(clk)
	ctx := context.Background()

	ok, err := store.EnqueueUnseen(ctx, "seen:a", time.Hour, "a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.EnqueueUnseen(ctx, "seen:a", time.Hour, "a", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.now = clk.now.Add(time.Hour)
	ok, err = store.EnqueueUnseen(ctx, "seen:a", time.Hour, "a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestPopMaxFIFOTies(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Push(ctx, "first", 5))
	require.NoError(t, store.Push(ctx, "top", 9))
	require.NoError(t, store.Push(ctx, "second", 5))

	for _, want := range []string{"top", "first", "second"} {
		got, ok, err := store.PopMax(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok, err := store.PopMax(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrWithTTLResetsAfterExpiry(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewStoreWithClock(clk)
	ctx := context.Background()

	n, err := store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	clk.now = clk.now.Add(23 * time.Hour)
	n, err = store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	clk.now = clk.now.Add(time.Hour)
	n, err = store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestReserveSlot(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	ok, err := store.ReserveSlot(ctx, "last_crawl:x", now, time.Second, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ReserveSlot(ctx, "last_crawl:x", now, time.Second, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.NoError(t, store.Close())
	require.Error(t, store.Ping(context.Background()))
	_, _, err := store.PopMax(context.Background())
	require.Error(t, err)
}
