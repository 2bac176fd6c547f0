package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.Ultimate-Guitar.com/tabs/1": "ultimate-guitar.com",
		"https://bandcamp.com/discover":          "bandcamp.com",
		"last.fm/music":                          "last.fm",
		"discogs.com:8443":                       "discogs.com",
		"192.168.1.1":                            "192.168.1.1",
		"http://%":                               "unknown",
		"":                                       "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, Site(in), "input %q", in)
	}
}

// TestObserveCrawlLabels ensures outcomes and bytes land on the site label.
func TestObserveCrawlLabels(t *testing.T) {
	t.Parallel()

	c := newCollectors(prometheus.NewRegistry())
	c.observeCrawl("https://www.discogs.com/release/1", "success", 512)
	c.observeCrawl("https://discogs.com/release/2", "success", 256)
	c.observeCrawl("https://discogs.com/release/3", "failed", 0)

	assert.InDelta(t, 2, testutil.ToFloat64(c.pages.WithLabelValues("discogs.com", "success")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.pages.WithLabelValues("discogs.com", "failed")), 0.001)
	assert.InDelta(t, 768, testutil.ToFloat64(c.bytes.WithLabelValues("discogs.com")), 0.001)
}

func TestObserveRequestLabels(t *testing.T) {
	t.Parallel()

	c := newCollectors(prometheus.NewRegistry())
	c.observeRequest("GET", "/stats/hosts/{host}", 200, 3*time.Millisecond)
	c.observeRequest("GET", "/stats/hosts/{host}", 503, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(c.apiRequests.WithLabelValues("GET", "/stats/hosts/{host}", "503")), 0.001)
	assert.Equal(t, 1, testutil.CollectAndCount(c.apiDuration))
}

// TestPackageHelpers drives the default-registry helpers the engine calls.
func TestPackageHelpers(t *testing.T) {
	Init()
	Init()

	SetFrontierSize(42)
	SetConcurrency(7, 3)
	SetResources(120.5, 33)
	ObserveFetchDuration("https://gauges.test/", 250*time.Millisecond)
	before := testutil.ToFloat64(global.deferrals)
	ObserveDeferral()
	ObserveRobotsLookup("cached")

	assert.InDelta(t, 42, testutil.ToFloat64(global.frontierSize), 0.001)
	assert.InDelta(t, 7, testutil.ToFloat64(global.concurrency), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(global.inFlight), 0.001)
	assert.InDelta(t, 120.5, testutil.ToFloat64(global.memoryMB), 0.001)
	assert.InDelta(t, 33, testutil.ToFloat64(global.cpuPercent), 0.001)
	assert.InDelta(t, before+1, testutil.ToFloat64(global.deferrals), 0.001)
	assert.GreaterOrEqual(t, testutil.ToFloat64(global.robotsLookups.WithLabelValues("cached")), 1.0)
	assert.Positive(t, testutil.CollectAndCount(global.fetchDuration))
}

func FuzzSite(f *testing.F) {
	for _, seed := range []string{"https://bandcamp.com", "last.fm", "ftp://example.com", "::"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if Site(in) == "" {
			t.Errorf("Site(%q) returned an empty label", in)
		}
	})
}
