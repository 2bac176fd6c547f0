package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/resource"
)

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a page into a structured record. It must not fail on
// malformed input; a partial record is returned instead.
type Extractor interface {
	Extract(body []byte, pageURL string) Extraction
}

// ResultSink persists outcomes. Both calls are fire-and-forget: the sink
// logs its own failures.
type ResultSink interface {
	StoreResult(ctx context.Context, record ResultRecord)
	StoreError(ctx context.Context, record ErrorRecord)
}

// ResourceMonitor is the view of process telemetry the engine needs.
type ResourceMonitor interface {
	Sample() (resource.Snapshot, error)
	Pressure() resource.Pressure
	ForceCleanup()
}

// Hasher computes digests for seen-record keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RetryPolicy paces retries of failed store operations.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// RobotsChecker answers whether a URL may be fetched under robots rules.
type RobotsChecker interface {
	CanFetch(ctx context.Context, rawURL string) bool
}

// Pinger checks that shared infrastructure is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
