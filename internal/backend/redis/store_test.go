package redisbackend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	store := NewWithClient(client, "")
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

// TestEnqueueUnseenInsertsOnce ensures the seen marker blocks a second insert.
func TestEnqueueUnseenInsertsOnce(t *testing.T) {
	t.Parallel()

	store, srv := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.EnqueueUnseen(ctx, "seen:a", time.Hour, `{"url":"a"}`, 10)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.EnqueueUnseen(ctx, "seen:a", time.Hour, `{"url":"a"}`, 10)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, srv.Exists("seen:a"))
	assert.Equal(t, time.Hour, srv.TTL("seen:a"))
}

// TestEnqueueUnseenAfterExpiry ensures an expired seen marker admits the URL again.
func TestEnqueueUnseenAfterExpiry(t *testing.T) {
	t.Parallel()

	store, srv := newTestStore(t)
	ctx := context.Background()

	_, err := store.EnqueueUnseen(ctx, "seen:a", time.Minute, "a", 1)
	require.NoError(t, err)
	_, ok, err := store.PopMax(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)

	inserted, err := store.EnqueueUnseen(ctx, "seen:a", time.Minute, "a", 1)
	require.NoError(t, err)
	assert.True(t, inserted)
}

// TestPopMaxOrdersByScore ensures the highest score pops first.
func TestPopMaxOrdersByScore(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, "low", 1))
	require.NoError(t, store.Push(ctx, "high", 10))
	require.NoError(t, store.Push(ctx, "mid", 5))

	for _, want := range []string{"high", "mid", "low"} {
		got, ok, err := store.PopMax(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok, err := store.PopMax(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestIncrWithTTLKeepsFirstExpiry ensures the TTL is applied only on creation.
func TestIncrWithTTLKeepsFirstExpiry(t *testing.T) {
	t.Parallel()

	store, srv := newTestStore(t)
	ctx := context.Background()

	n, err := store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	srv.FastForward(time.Hour)
	n, err = store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 23*time.Hour, srv.TTL("count:x"))

	srv.FastForward(24 * time.Hour)
	n, err = store.IncrWithTTL(ctx, "count:x", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// TestReserveSlot ensures the second reservation inside the delay is refused.
func TestReserveSlot(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	ok, err := store.ReserveSlot(ctx, "last_crawl:x", now, time.Second, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveSlot(ctx, "last_crawl:x", now.Add(500*time.Millisecond), time.Second, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReserveSlot(ctx, "last_crawl:x", now.Add(time.Second), time.Second, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	val, found, err := store.Get(ctx, "last_crawl:x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1700000001000", val)
}

// TestGetSetExists covers the plain key helpers.
func TestGetSetExists(t *testing.T) {
	t.Parallel()

	store, srv := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "robots:x")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "robots:x", "User-agent: *", 5*time.Minute))
	val, found, err := store.Get(ctx, "robots:x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "User-agent: *", val)

	exists, err := store.Exists(ctx, "robots:x")
	require.NoError(t, err)
	assert.True(t, exists)

	srv.FastForward(6 * time.Minute)
	exists, err = store.Exists(ctx, "robots:x")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestStoreUnavailable ensures connection failures wrap backend.ErrUnavailable.
func TestStoreUnavailable(t *testing.T) {
	t.Parallel()

	store, srv := newTestStore(t)
	srv.Close()

	_, _, err := store.PopMax(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnavailable))

	err = store.Ping(context.Background())
	assert.True(t, errors.Is(err, backend.ErrUnavailable))
}

// TestNewRequiresAddr ensures the constructor validates its config.
func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
