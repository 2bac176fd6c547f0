// Package backend defines the durable store shared by the frontier, the
// seen-set, the robots cache and the per-host scheduler state.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks failures talking to the durable store.
var ErrUnavailable = errors.New("durable store unavailable")

// Store is the durable queue/state backend. Implementations must provide
// the atomic primitives below; the crawler does no locking of its own.
type Store interface {
	// EnqueueUnseen atomically creates seenKey with seenTTL and, only if
	// the key did not already exist, adds member to the frontier with
	// score. It reports whether the member was inserted.
	EnqueueUnseen(ctx context.Context, seenKey string, seenTTL time.Duration, member string, score float64) (bool, error)
	// Push adds member to the frontier unconditionally.
	Push(ctx context.Context, member string, score float64) error
	// PopMax removes and returns the highest-scored member. ok is false
	// when the frontier is empty.
	PopMax(ctx context.Context) (member string, ok bool, err error)
	// Len returns the number of pending frontier members.
	Len(ctx context.Context) (int64, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the value stored at key. ok is false when absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value at key with the given TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// IncrWithTTL increments the counter at key, applying ttl only when
	// the counter is created.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// ReserveSlot atomically admits a request at now when no timestamp is
	// stored at key or when now minus the stored timestamp is at least
	// minDelay. On admission it stores now, as decimal unix milliseconds,
	// with ttl.
	ReserveSlot(ctx context.Context, key string, now time.Time, minDelay, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps err so callers can match ErrUnavailable. Context
// cancellation is passed through untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
