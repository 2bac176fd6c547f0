package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// scriptedTransport replays errs in order, then succeeds.
type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) RoundTrip(*http.Request) (*http.Response, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return httptest.NewRecorder().Result(), nil
}

func fastRobotsTransport(base http.RoundTripper) *RobotsTransport {
	t := NewRobotsTransport(base)
	t.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return t
}

func TestRobotsTransport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		path      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "recovers after a timeout",
			path:      "/robots.txt",
			errs:      []error{context.DeadlineExceeded},
			wantCalls: 2,
		},
		{
			name:      "gives up after the schedule",
			path:      "/robots.txt",
			errs:      []error{syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET},
			wantCalls: 4,
			wantErr:   crawler.ErrTransientNetwork,
		},
		{
			name:      "permanent failure is not retried",
			path:      "/robots.txt",
			errs:      []error{errors.New("x509: certificate signed by unknown authority")},
			wantCalls: 1,
		},
		{
			name:      "page fetches pass through",
			path:      "/tabs/123",
			errs:      []error{syscall.ECONNRESET},
			wantCalls: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			base := &scriptedTransport{errs: tc.errs}
			req := httptest.NewRequest(http.MethodGet, "https://www.ultimate-guitar.com"+tc.path, nil)
			resp, err := fastRobotsTransport(base).RoundTrip(req)
			if resp != nil {
				require.NoError(t, resp.Body.Close())
			}
			assert.Equal(t, tc.wantCalls, base.calls)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.wantCalls > len(tc.errs):
				assert.NoError(t, err)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestRobotsTransportStopsOnCancel(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://bandcamp.com/robots.txt", nil).WithContext(ctx)

	_, err := NewRobotsTransport(base).RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)
}
