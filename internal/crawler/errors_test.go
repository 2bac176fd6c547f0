package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"oversized", fmt.Errorf("read: %w", ErrOversizedResponse), KindOversizedResponse},
		{"robots", ErrPolicyDenied, KindPolicyDenied},
		{"store", backend.Unavailable("pop", errors.New("conn refused")), KindStoreUnavailable},
		{"status", &StatusError{Code: 404}, KindHTTPStatus},
		{"deadline", context.DeadlineExceeded, KindTransientNetwork},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransientNetwork},
		{"url error", &url.Error{Op: "Get", URL: "https://x.test", Err: errors.New("eof")}, KindTransientNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.test"}, KindTransientNetwork},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("fetch: %w", &StatusError{Code: 502})
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, 502, statusCodeOf(err))
	assert.Zero(t, statusCodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "502")
}
