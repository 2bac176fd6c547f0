package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend/memory"
	hashsha "github.com/JakeFAU/polite-crawler/internal/hash/sha256"
	"github.com/JakeFAU/polite-crawler/internal/resource"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFrontier(t *testing.T, maxDepth int, clk Clock) (*Frontier, *memory.Store) {
	t.Helper()
	store := memory.NewStoreWithClock(clk)
	f := NewFrontier(FrontierConfig{MaxDepth: maxDepth}, store, hashsha.New(), clk, zap.NewNop())
	return f, store
}

type staticPressure struct {
	mu sync.Mutex
	p  resource.Pressure
}

func (s *staticPressure) Set(p resource.Pressure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *staticPressure) Pressure() resource.Pressure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// noopSleeper skips real sleeps in engine tests.
type noopSleeper struct{}

func (noopSleeper) Sleep(context.Context, time.Duration) {}
