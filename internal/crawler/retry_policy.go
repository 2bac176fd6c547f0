package crawler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ExponentialRetryPolicy retries store outages with capped exponential
// backoff. Half of each delay is fixed and half is random.
type ExponentialRetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// NewExponentialRetryPolicy allows three retries starting at 250ms and
// capped at 5s.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		MaxAttempts: 3,
		Base:        250 * time.Millisecond,
		Cap:         5 * time.Second,
	}
}

// ShouldRetry only retries errors wrapping ErrStoreUnavailable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	switch {
	case err == nil, attempt >= p.MaxAttempts:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}

// Backoff returns a delay in [d/2, d] where d = min(Base<<attempt, Cap).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Cap
	if attempt >= 0 && attempt < 32 {
		if step := p.Base << attempt; step > 0 && step < p.Cap {
			d = step
		}
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(d-half+1)
}
