// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crawler"

type collectors struct {
	pages         *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	robotsLookups *prometheus.CounterVec
	deferrals     prometheus.Counter
	frontierSize  prometheus.Gauge
	concurrency   prometheus.Gauge
	inFlight      prometheus.Gauge
	memoryMB      prometheus.Gauge
	cpuPercent    prometheus.Gauge
	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
}

var (
	global collectors
	once   sync.Once
)

// Init registers the collectors with the default registry. Repeat calls
// are no-ops.
func Init() {
	once.Do(func() {
		global = newCollectors(prometheus.DefaultRegisterer)
	})
}

func newCollectors(reg prometheus.Registerer) collectors {
	f := promauto.With(reg)
	return collectors{
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Crawl attempts by site and outcome.",
		}, []string{"site", "outcome"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Body bytes fetched by site.",
		}, []string{"site"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch latency by site.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		robotsLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "robots_lookups_total",
			Help:      "robots.txt lookups by source (cached, fetched, retry_exhausted).",
		}, []string{"source"}),
		deferrals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "politeness_deferrals_total",
			Help:      "URLs re-queued because their host delay had not elapsed.",
		}),
		frontierSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_size",
			Help:      "Pending frontier entries.",
		}),
		concurrency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency_level",
			Help:      "Current admission limit.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "URLs being processed.",
		}),
		memoryMB: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_mb",
			Help:      "Resident memory in MB.",
		}),
		cpuPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "Process CPU since the previous sample.",
		}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Operator API requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Operator API latency by method and route.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
	}
}

// Site reduces a URL or bare host to a lowercase label value without a
// leading "www.". Unparseable input maps to "unknown".
func Site(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	if site := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."); site != "" {
		return site
	}
	return "unknown"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (c collectors) observeCrawl(rawURL, outcome string, n int) {
	site := Site(rawURL)
	c.pages.WithLabelValues(site, outcome).Inc()
	if n > 0 {
		c.bytes.WithLabelValues(site).Add(float64(n))
	}
}

// ObserveCrawl counts one attempt outcome and its body size.
func ObserveCrawl(rawURL, outcome string, bytesFetched int) {
	Init()
	global.observeCrawl(rawURL, outcome, bytesFetched)
}

// ObserveFetchDuration records a page fetch latency.
func ObserveFetchDuration(rawURL string, d time.Duration) {
	Init()
	global.fetchDuration.WithLabelValues(Site(rawURL)).Observe(d.Seconds())
}

func (c collectors) observeRequest(method, route string, code int, d time.Duration) {
	c.apiRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.apiDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveHTTPRequest records one operator API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	global.observeRequest(method, route, code, d)
}

// ObserveRobotsLookup counts a robots.txt lookup by source.
func ObserveRobotsLookup(source string) {
	Init()
	global.robotsLookups.WithLabelValues(source).Inc()
}

// ObserveDeferral counts a politeness deferral.
func ObserveDeferral() {
	Init()
	global.deferrals.Inc()
}

// SetFrontierSize records the frontier length.
func SetFrontierSize(n int64) {
	Init()
	global.frontierSize.Set(float64(n))
}

// SetConcurrency records the admission limit and in-flight count.
func SetConcurrency(level, inFlight int) {
	Init()
	global.concurrency.Set(float64(level))
	global.inFlight.Set(float64(inFlight))
}

// SetResources records the latest resource sample.
func SetResources(memoryMB, cpuPercent float64) {
	Init()
	global.memoryMB.Set(memoryMB)
	global.cpuPercent.Set(cpuPercent)
}
