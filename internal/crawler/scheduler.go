package crawler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

const (
	lastCrawlPrefix = "last_crawl:"
	countPrefix     = "count:"
	errorsPrefix    = "errors:"

	lastCrawlTTL = time.Hour
	counterTTL   = 24 * time.Hour
)

// CrawlDelaySource exposes a cached robots crawl-delay for a host without
// triggering a fetch.
type CrawlDelaySource interface {
	CrawlDelay(ctx context.Context, host string) time.Duration
}

// HostScheduler enforces the minimum delay between requests to one host
// and keeps rolling per-host outcome counters.
type HostScheduler struct {
	store        backend.Store
	defaultDelay time.Duration
	delays       CrawlDelaySource
	clock        Clock
	logger       *zap.Logger
}

// NewHostScheduler builds a HostScheduler. delays may be nil.
func NewHostScheduler(
	store backend.Store,
	defaultDelay time.Duration,
	delays CrawlDelaySource,
	clock Clock,
	logger *zap.Logger,
) *HostScheduler {
	return &HostScheduler{
		store:        store,
		defaultDelay: defaultDelay,
		delays:       delays,
		clock:        clock,
		logger:       logger,
	}
}

// MinDelay is max(default delay, robots crawl-delay) for host.
func (s *HostScheduler) MinDelay(ctx context.Context, host string) time.Duration {
	delay := s.defaultDelay
	if s.delays != nil {
		if robotsDelay := s.delays.CrawlDelay(ctx, host); robotsDelay > delay {
			delay = robotsDelay
		}
	}
	return delay
}

// CanCrawlHost reports whether the host of rawURL may be contacted now. A
// permit reserves the slot immediately, before any fetch happens, so two
// workers cannot both pass for the same host.
func (s *HostScheduler) CanCrawlHost(ctx context.Context, rawURL string) (bool, error) {
	host, err := HostOf(rawURL)
	if err != nil {
		return false, err
	}
	ok, err := s.store.ReserveSlot(ctx, lastCrawlPrefix+host, s.clock.Now(), s.MinDelay(ctx, host), lastCrawlTTL)
	if err != nil {
		return false, fmt.Errorf("reserve host slot: %w", err)
	}
	return ok, nil
}

// RecordCrawl bumps the host's request counter, and its error counter
// when success is false.
func (s *HostScheduler) RecordCrawl(ctx context.Context, rawURL string, success bool) error {
	host, err := HostOf(rawURL)
	if err != nil {
		return err
	}
	if _, err := s.store.IncrWithTTL(ctx, countPrefix+host, counterTTL); err != nil {
		return fmt.Errorf("record host request: %w", err)
	}
	if success {
		return nil
	}
	if _, err := s.store.IncrWithTTL(ctx, errorsPrefix+host, counterTTL); err != nil {
		return fmt.Errorf("record host error: %w", err)
	}
	return nil
}

// RequestsToday returns the rolling request count for host.
func (s *HostScheduler) RequestsToday(ctx context.Context, host string) (int64, error) {
	return s.readCounter(ctx, countPrefix+host)
}

// HostState assembles the stored state for host.
func (s *HostScheduler) HostState(ctx context.Context, host string) (HostState, error) {
	state := HostState{Host: host, MinDelay: s.MinDelay(ctx, host)}
	raw, ok, err := s.store.Get(ctx, lastCrawlPrefix+host)
	if err != nil {
		return HostState{}, fmt.Errorf("read last crawl: %w", err)
	}
	if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			state.LastRequestTime = time.UnixMilli(ms).UTC()
		}
	}
	if state.RequestsToday, err = s.readCounter(ctx, countPrefix+host); err != nil {
		return HostState{}, err
	}
	if state.ErrorsToday, err = s.readCounter(ctx, errorsPrefix+host); err != nil {
		return HostState{}, err
	}
	return state, nil
}

func (s *HostScheduler) readCounter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("non-numeric host counter", zap.String("key", key), zap.String("value", raw))
		return 0, nil
	}
	return n, nil
}
