package collyfetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
)

// DefaultRobotsBackoff is the wait before each robots.txt retry.
var DefaultRobotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// RobotsTransport retries robots.txt fetches that fail with a transient
// network error, so one slow handshake does not pin a host to the
// short error TTL. Other paths go straight to the wrapped transport.
type RobotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

// NewRobotsTransport wraps base with DefaultRobotsBackoff.
func NewRobotsTransport(base http.RoundTripper) *RobotsTransport {
	return &RobotsTransport{base: base, backoff: DefaultRobotsBackoff}
}

// RoundTrip implements http.RoundTripper.
func (t *RobotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req) //nolint:wrapcheck // transparent for page fetches
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || crawler.Classify(err) != crawler.KindTransientNetwork {
			return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
		}
		if attempt >= len(t.backoff) {
			metrics.ObserveRobotsLookup("retry_exhausted")
			return nil, fmt.Errorf("fetch %s after %d attempts: %w: %w",
				req.URL.Redacted(), attempt+1, crawler.ErrTransientNetwork, err)
		}
		timer := time.NewTimer(t.backoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), ctx.Err())
		case <-timer.C:
		}
	}
}
