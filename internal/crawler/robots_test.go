package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend/memory"
)

const testAgent = "polite-crawler/1.0 (+https://example.invalid/bot)"

type robotsServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
	body   atomic.Value
}

func newRobotsServer(t *testing.T, status int, body string) *robotsServer {
	t.Helper()
	rs := &robotsServer{}
	rs.status.Store(int32(status))
	rs.body.Store(body)
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		rs.hits.Add(1)
		w.WriteHeader(int(rs.status.Load()))
		fmt.Fprint(w, rs.body.Load().(string))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newTestRobots(clk Clock, store *memory.Store) *RobotsCache {
	return NewRobotsCache(RobotsConfig{Respect: true, UserAgent: testAgent}, nil, store, clk, zap.NewNop())
}

// TestRobotsCacheEvaluatesRules ensures rules are fetched once and matched
// against the request path.
func TestRobotsCacheEvaluatesRules(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusOK,
		"User-agent: polite-crawler\nDisallow: /private\n\nUser-agent: *\nDisallow: /\n")
	clk := newFakeClock()
	robots := newTestRobots(clk, memory.NewStoreWithClock(clk))
	ctx := context.Background()

	assert.False(t, robots.CanFetch(ctx, srv.URL+"/public"), "the wildcard group still applies")
	assert.False(t, robots.CanFetch(ctx, srv.URL+"/private/page"))
	assert.False(t, robots.CanFetch(ctx, srv.URL+"/"))
	assert.EqualValues(t, 1, srv.hits.Load(), "rules are fetched once per TTL")
}

// TestRobotsCacheAppliesOwnAndWildcardGroups ensures a path is denied when
// either the crawler's own group or the wildcard group disallows it, and that
// the longer crawl-delay of the two wins.
func TestRobotsCacheAppliesOwnAndWildcardGroups(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusOK,
		"User-agent: *\nDisallow: /private\nCrawl-delay: 5\n\n"+
			"User-agent: polite-crawler\nDisallow: /tmp\nCrawl-delay: 2\n")
	clk := newFakeClock()
	robots := newTestRobots(clk, memory.NewStoreWithClock(clk))
	ctx := context.Background()

	tests := []struct {
		path string
		want bool
	}{
		{path: "/private/x", want: false},
		{path: "/tmp/y", want: false},
		{path: "/ok", want: true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, robots.CanFetch(ctx, srv.URL+tc.path), tc.path)
	}

	host, err := HostOf(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, robots.CrawlDelay(ctx, host))
}

func TestRobotsCacheWildcardGroup(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /blocked\nCrawl-delay: 3\n")
	clk := newFakeClock()
	robots := newTestRobots(clk, memory.NewStoreWithClock(clk))
	ctx := context.Background()

	host, err := HostOf(srv.URL)
	require.NoError(t, err)
	assert.Zero(t, robots.CrawlDelay(ctx, host), "crawl-delay never triggers a fetch")
	assert.Zero(t, srv.hits.Load())

	assert.True(t, robots.CanFetch(ctx, srv.URL+"/allowed"))
	assert.False(t, robots.CanFetch(ctx, srv.URL+"/blocked?x=1"))
	assert.Equal(t, 3*time.Second, robots.CrawlDelay(ctx, host))
}

// TestRobotsCachePermissiveOnFailure ensures a failed robots fetch allows
// everything until the error TTL expires.
func TestRobotsCachePermissiveOnFailure(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusInternalServerError, "oops")
	clk := newFakeClock()
	robots := newTestRobots(clk, memory.NewStoreWithClock(clk))
	ctx := context.Background()

	for _, path := range []string{"/", "/admin", "/anything/else"} {
		assert.True(t, robots.CanFetch(ctx, srv.URL+path))
	}
	assert.EqualValues(t, 1, srv.hits.Load())

	srv.status.Store(http.StatusOK)
	srv.body.Store("User-agent: *\nDisallow: /admin\n")

	clk.Advance(4 * time.Minute)
	assert.True(t, robots.CanFetch(ctx, srv.URL+"/admin"), "empty rules still cached")

	clk.Advance(time.Minute)
	assert.False(t, robots.CanFetch(ctx, srv.URL+"/admin"), "error TTL expired, rules refetched")
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestRobotsCacheUnreachableHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	clk := newFakeClock()
	store := memory.NewStoreWithClock(clk)
	robots := newTestRobots(clk, store)
	assert.True(t, robots.CanFetch(context.Background(), target+"/page"))

	host, err := HostOf(target)
	require.NoError(t, err)
	rules, ok := robots.Describe(context.Background(), host)
	require.True(t, ok)
	assert.Empty(t, rules.Raw)
	assert.Equal(t, 5*time.Minute, rules.TTL)
}

// TestRobotsCacheSharedStore ensures a second process reuses persisted rules.
func TestRobotsCacheSharedStore(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /blocked\n")
	clk := newFakeClock()
	store := memory.NewStoreWithClock(clk)
	ctx := context.Background()

	first := newTestRobots(clk, store)
	assert.False(t, first.CanFetch(ctx, srv.URL+"/blocked"))

	second := newTestRobots(clk, store)
	assert.False(t, second.CanFetch(ctx, srv.URL+"/blocked"))
	assert.EqualValues(t, 1, srv.hits.Load())

	clk.Advance(time.Hour)
	assert.False(t, second.CanFetch(ctx, srv.URL+"/blocked"))
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestRobotsCacheDisabled(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /\n")
	clk := newFakeClock()
	robots := NewRobotsCache(RobotsConfig{UserAgent: testAgent}, nil, memory.NewStoreWithClock(clk), clk, zap.NewNop())

	assert.True(t, robots.CanFetch(context.Background(), srv.URL+"/anything"))
	assert.Zero(t, srv.hits.Load())
}
