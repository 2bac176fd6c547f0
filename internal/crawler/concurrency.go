package crawler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/resource"
)

// PressureSource reports the current resource pressure.
type PressureSource interface {
	Pressure() resource.Pressure
}

// ConcurrencyConfig bounds the admission level.
type ConcurrencyConfig struct {
	Min     int
	Max     int
	Initial int
	Step    int
}

// ConcurrencyController holds the admission level and gates workers on it.
// Lowering the level never interrupts in-flight work; it only stops new
// admissions until enough of it finishes.
type ConcurrencyController struct {
	monitor PressureSource
	step    int
	min     int
	max     int
	logger  *zap.Logger

	mu       sync.Mutex
	level    int
	inFlight int
	// wake is closed and replaced whenever a slot may have opened.
	wake chan struct{}
}

// NewConcurrencyController builds a controller starting at cfg.Initial,
// clamped into [Min, Max].
func NewConcurrencyController(cfg ConcurrencyConfig, monitor PressureSource, logger *zap.Logger) *ConcurrencyController {
	if cfg.Min < 1 {
		cfg.Min = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Step < 1 {
		cfg.Step = 2
	}
	level := min(max(cfg.Initial, cfg.Min), cfg.Max)
	c := &ConcurrencyController{
		monitor: monitor,
		step:    cfg.Step,
		min:     cfg.Min,
		max:     cfg.Max,
		logger:  logger,
		level:   level,
		wake:    make(chan struct{}),
	}
	metrics.SetConcurrency(level, 0)
	return c
}

// Adjust moves the level one step against the current pressure and
// returns the new level.
func (c *ConcurrencyController) Adjust() int {
	pressure := c.monitor.Pressure()

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.level
	switch pressure {
	case resource.PressureHigh:
		c.level = max(c.level-c.step, c.min)
	case resource.PressureLow:
		c.level = min(c.level+c.step, c.max)
	}
	if c.level != prev {
		c.logger.Info("concurrency adjusted",
			zap.Int("from", prev),
			zap.Int("to", c.level),
			zap.Stringer("pressure", pressure),
		)
		c.broadcastLocked()
	}
	metrics.SetConcurrency(c.level, c.inFlight)
	return c.level
}

// Acquire blocks until in-flight work is below the current level.
func (c *ConcurrencyController) Acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inFlight < c.level {
			c.inFlight++
			metrics.SetConcurrency(c.level, c.inFlight)
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Release frees a slot taken by Acquire.
func (c *ConcurrencyController) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	metrics.SetConcurrency(c.level, c.inFlight)
	c.broadcastLocked()
}

// Level returns the current admission limit.
func (c *ConcurrencyController) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// State returns a snapshot of the controller.
func (c *ConcurrencyController) State() ConcurrencyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConcurrencyState{Current: c.level, Min: c.min, Max: c.max, InFlight: c.inFlight}
}

func (c *ConcurrencyController) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}
