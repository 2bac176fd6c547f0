package crawler

import (
	"context"
	"time"
)

// sleeper waits out deferrals, idle periods and backoffs.
type sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}

// contextSleeper returns early when ctx is done.
type contextSleeper struct{}

func (contextSleeper) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
