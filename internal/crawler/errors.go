package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

// Error taxonomy for a single crawl attempt.
var (
	ErrTransientNetwork   = errors.New("transient network error")
	ErrPolicyDenied       = errors.New("disallowed by robots.txt")
	ErrPolitenessDeferred = errors.New("host delay not yet elapsed")
	ErrOversizedResponse  = errors.New("response exceeds content length cap")
	ErrStoreUnavailable   = backend.ErrUnavailable
	ErrHTTPStatus         = errors.New("unexpected http status")
	ErrQueueEmpty         = errors.New("frontier is empty")
)

// ErrorKind is the label recorded with a stored error.
type ErrorKind string

// Recorded error kinds.
const (
	KindTransientNetwork  ErrorKind = "transient_network"
	KindHTTPStatus        ErrorKind = "http_status"
	KindOversizedResponse ErrorKind = "oversized_response"
	KindPolicyDenied      ErrorKind = "policy_denied"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindUnknown           ErrorKind = "unknown"
)

// StatusError carries the status code of a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrHTTPStatus.Error(), e.Code)
}

// Unwrap lets errors.Is match ErrHTTPStatus.
func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

// Classify maps an attempt error onto the taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOversizedResponse):
		return KindOversizedResponse
	case errors.Is(err, ErrPolicyDenied):
		return KindPolicyDenied
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrHTTPStatus):
		return KindHTTPStatus
	case isTransient(err):
		return KindTransientNetwork
	default:
		return KindUnknown
	}
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransientNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// statusCodeOf extracts the HTTP status from err, or 0.
func statusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
