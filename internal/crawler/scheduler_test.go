package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend/memory"
)

type fixedDelay time.Duration

func (d fixedDelay) CrawlDelay(context.Context, string) time.Duration { return time.Duration(d) }

func newTestScheduler(clk Clock, delay time.Duration, delays CrawlDelaySource) (*HostScheduler, *memory.Store) {
	store := memory.NewStoreWithClock(clk)
	return NewHostScheduler(store, delay, delays, clk, zap.NewNop()), store
}

// TestCanCrawlHostXTestScenario ensures the gate covers the whole host and
// reopens after the default delay.
func TestCanCrawlHostXTestScenario(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s, _ := newTestScheduler(clk, time.Second, nil)
	ctx := context.Background()

	ok, err := s.CanCrawlHost(ctx, "https://x.test/a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CanCrawlHost(ctx, "https://x.test/b")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(time.Second + time.Millisecond)
	ok, err = s.CanCrawlHost(ctx, "https://x.test/b")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestCanCrawlHostSingleAdmission ensures racing workers admit one request per host.
func TestCanCrawlHostSingleAdmission(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(newFakeClock(), time.Second, nil)
	ctx := context.Background()

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CanCrawlHost(ctx, "https://x.test/page")
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, admitted.Load())
}

func TestCanCrawlHostIndependentHosts(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(newFakeClock(), time.Second, nil)
	ctx := context.Background()

	ok, err := s.CanCrawlHost(ctx, "https://a.test/")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CanCrawlHost(ctx, "https://b.test/")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestMinDelayUsesRobotsCrawlDelay ensures a longer crawl-delay wins over the default.
func TestMinDelayUsesRobotsCrawlDelay(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s, _ := newTestScheduler(clk, time.Second, fixedDelay(5*time.Second))
	ctx := context.Background()
	assert.Equal(t, 5*time.Second, s.MinDelay(ctx, "x.test"))

	ok, err := s.CanCrawlHost(ctx, "https://x.test/")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(2 * time.Second)
	ok, err = s.CanCrawlHost(ctx, "https://x.test/")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(3 * time.Second)
	ok, err = s.CanCrawlHost(ctx, "https://x.test/")
	require.NoError(t, err)
	assert.True(t, ok)

	short, _ := newTestScheduler(clk, 2*time.Second, fixedDelay(time.Second))
	assert.Equal(t, 2*time.Second, short.MinDelay(ctx, "x.test"))
}

func TestRecordCrawlCounters(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s, _ := newTestScheduler(clk, time.Second, nil)
	ctx := context.Background()

	_, err := s.CanCrawlHost(ctx, "https://x.test/")
	require.NoError(t, err)
	require.NoError(t, s.RecordCrawl(ctx, "https://x.test/a", true))
	require.NoError(t, s.RecordCrawl(ctx, "https://x.test/b", false))
	require.NoError(t, s.RecordCrawl(ctx, "https://x.test/c", false))

	state, err := s.HostState(ctx, "x.test")
	require.NoError(t, err)
	assert.EqualValues(t, 3, state.RequestsToday)
	assert.EqualValues(t, 2, state.ErrorsToday)
	assert.Equal(t, time.Second, state.MinDelay)
	assert.True(t, state.LastRequestTime.Equal(clk.Now()))

	clk.Advance(24 * time.Hour)
	n, err := s.RequestsToday(ctx, "x.test")
	require.NoError(t, err)
	assert.Zero(t, n, "counters roll off after 24h")
}

func TestSchedulerStoreErrors(t *testing.T) {
	t.Parallel()

	s, store := newTestScheduler(newFakeClock(), time.Second, nil)
	require.NoError(t, store.Close())

	_, err := s.CanCrawlHost(context.Background(), "https://x.test/")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.RecordCrawl(context.Background(), "https://x.test/", true), ErrStoreUnavailable)

	_, err = s.CanCrawlHost(context.Background(), "not a url")
	require.Error(t, err)
}
