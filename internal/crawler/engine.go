package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/resource"
)

// Outcome is the terminal state of one attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeDeferred  Outcome = "deferred"
	OutcomeSucceeded Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDiscarded Outcome = "discarded"
)

const (
	linkPriority       = 0
	memoryWarnRatio    = 0.80
	memoryCleanupRatio = 0.95
)

// EngineConfig holds the run-level knobs of the engine.
type EngineConfig struct {
	RunID             string
	MaxPages          int64
	MaxPagesPerDomain int64
	MaxLinksPerPage   int
	Workers           int
	DeferralPause     time.Duration
	IdleWait          time.Duration
	AdjustEvery       int64
	CleanupEvery      int64
	HealthInterval    time.Duration
	GlobalQPS         float64
}

// EngineDeps are the collaborators the engine drives.
type EngineDeps struct {
	Frontier    *Frontier
	Scheduler   *HostScheduler
	Robots      RobotsChecker
	Concurrency *ConcurrencyController
	Monitor     ResourceMonitor
	Fetcher     Fetcher
	Extractor   Extractor
	Sink        ResultSink
	Domains     *DomainAllowList
	Store       Pinger
	Clock       Clock
	Retry       RetryPolicy
	Logger      *zap.Logger
}

// EngineStatus is the engine's view for the stats endpoint.
type EngineStatus struct {
	RunID        string             `json:"run_id"`
	Stats        StatsSnapshot      `json:"stats"`
	FrontierSize int64              `json:"frontier_size"`
	Concurrency  ConcurrencyState   `json:"concurrency"`
	Resources    *resource.Snapshot `json:"resources,omitempty"`
}

// Engine pulls URLs from the frontier and runs each through the host
// gate, the robots check, the fetch, and extraction.
type Engine struct {
	cfg         EngineConfig
	frontier    *Frontier
	scheduler   *HostScheduler
	robots      RobotsChecker
	concurrency *ConcurrencyController
	monitor     ResourceMonitor
	fetcher     Fetcher
	extractor   Extractor
	sink        ResultSink
	domains     *DomainAllowList
	store       Pinger
	clock       Clock
	retry       RetryPolicy
	sleeper     sleeper
	limiter     *rate.Limiter
	logger      *zap.Logger

	stats    *CrawlStats
	claimed  atomic.Int64
	lastSnap atomic.Pointer[resource.Snapshot]
}

// NewEngine validates deps and builds an Engine.
func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("engine requires a frontier")
	case deps.Scheduler == nil:
		return nil, errors.New("engine requires a host scheduler")
	case deps.Robots == nil:
		return nil, errors.New("engine requires a robots checker")
	case deps.Concurrency == nil:
		return nil, errors.New("engine requires a concurrency controller")
	case deps.Monitor == nil:
		return nil, errors.New("engine requires a resource monitor")
	case deps.Fetcher == nil:
		return nil, errors.New("engine requires a fetcher")
	case deps.Extractor == nil:
		return nil, errors.New("engine requires an extractor")
	case deps.Sink == nil:
		return nil, errors.New("engine requires a result sink")
	case deps.Domains == nil:
		return nil, errors.New("engine requires a domain allow-list")
	case deps.Clock == nil:
		return nil, errors.New("engine requires a clock")
	}
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = deps.Concurrency.State().Max
	}
	if cfg.DeferralPause <= 0 {
		cfg.DeferralPause = 100 * time.Millisecond
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = time.Second
	}
	if cfg.AdjustEvery <= 0 {
		cfg.AdjustEvery = 10
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 100
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if deps.Retry == nil {
		deps.Retry = NewExponentialRetryPolicy()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:         cfg,
		frontier:    deps.Frontier,
		scheduler:   deps.Scheduler,
		robots:      deps.Robots,
		concurrency: deps.Concurrency,
		monitor:     deps.Monitor,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		sink:        deps.Sink,
		domains:     deps.Domains,
		store:       deps.Store,
		clock:       deps.Clock,
		retry:       deps.Retry,
		sleeper:     contextSleeper{},
		logger:      logger.With(zap.String("run_id", cfg.RunID)),
		stats:       newCrawlStats(deps.Clock.Now()),
	}
	if cfg.GlobalQPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.GlobalQPS), 1)
	}
	return e, nil
}

// Seed adds the seed URLs at SeedPriority and depth 0, returning how many
// were new.
func (e *Engine) Seed(ctx context.Context, seeds []string) (int, error) {
	added := 0
	for _, raw := range seeds {
		ok, err := e.frontier.Add(ctx, raw, SeedPriority, 0)
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", raw, err)
		}
		if ok {
			added++
		}
	}
	e.logger.Info("frontier seeded", zap.Int("seeds", len(seeds)), zap.Int("added", added))
	return added, nil
}

// Run starts the workers and the health loop and blocks until ctx is
// cancelled or the page budget is spent. In-flight attempts finish before
// Run returns.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		e.healthLoop(gctx)
		return nil
	})
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.worker(gctx, stop)
			return nil
		})
	}
	e.logger.Info("crawl engine started",
		zap.Int("workers", e.cfg.Workers),
		zap.Int64("page_budget", e.cfg.MaxPages),
		zap.Int("concurrency", e.concurrency.Level()),
	)
	err := g.Wait()
	e.logStats("crawl engine stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl engine: %w", err)
	}
	return nil
}

// Stats returns the run counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot(e.clock.Now())
}

// Status assembles the stats endpoint view. Resources is the health loop's
// latest sample; Status never samples itself, since a sample moves the CPU
// baseline.
func (e *Engine) Status(ctx context.Context) EngineStatus {
	status := EngineStatus{
		RunID:       e.cfg.RunID,
		Stats:       e.Stats(),
		Concurrency: e.concurrency.State(),
	}
	if n, err := e.frontier.Size(ctx); err == nil {
		status.FrontierSize = n
	}
	status.Resources = e.lastSnap.Load()
	return status
}

// HostState returns the stored politeness state for host.
func (e *Engine) HostState(ctx context.Context, host string) (HostState, error) {
	return e.scheduler.HostState(ctx, host)
}

// Ready reports whether the durable store answers.
func (e *Engine) Ready(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Ping(ctx)
}

func (e *Engine) worker(ctx context.Context, stop context.CancelFunc) {
	storeFailures := 0
	for ctx.Err() == nil {
		if e.budgetSpent() {
			stop()
			return
		}
		// The rest of the budget is held by in-flight attempts. One of them
		// may defer and hand its unit back, so wait instead of stopping.
		if !e.claim() {
			e.sleeper.Sleep(ctx, e.cfg.DeferralPause)
			continue
		}
		if err := e.concurrency.Acquire(ctx); err != nil {
			e.unclaim()
			return
		}
		entry, err := e.frontier.Next(ctx)
		if err != nil {
			e.concurrency.Release()
			e.unclaim()
			switch {
			case errors.Is(err, ErrQueueEmpty):
				storeFailures = 0
				e.sleeper.Sleep(ctx, e.cfg.IdleWait)
			case ctx.Err() != nil:
				return
			default:
				e.logger.Warn("frontier dequeue failed; backing off", zap.Error(err), zap.Int("attempt", storeFailures))
				e.sleeper.Sleep(ctx, e.retry.Backoff(storeFailures))
				storeFailures++
			}
			continue
		}
		storeFailures = 0

		outcome := e.processOne(context.WithoutCancel(ctx), entry)
		e.concurrency.Release()

		if outcome == OutcomeDeferred {
			e.unclaim()
			e.sleeper.Sleep(ctx, e.cfg.DeferralPause)
			continue
		}
		e.afterAttempt()
	}
}

// claim reserves one unit of the page budget.
func (e *Engine) claim() bool {
	n := e.claimed.Add(1)
	if e.cfg.MaxPages > 0 && n > e.cfg.MaxPages {
		e.claimed.Add(-1)
		return false
	}
	return true
}

func (e *Engine) unclaim() {
	e.claimed.Add(-1)
}

// budgetSpent reports whether MaxPages attempts have completed. Claims still
// in flight do not count: a deferred attempt returns its claim.
func (e *Engine) budgetSpent() bool {
	return e.cfg.MaxPages > 0 && e.stats.processed.Load() >= e.cfg.MaxPages
}

func (e *Engine) afterAttempt() {
	processed := e.stats.processed.Add(1)
	if processed%e.cfg.AdjustEvery == 0 {
		e.concurrency.Adjust()
	}
	if processed%e.cfg.CleanupEvery == 0 {
		e.monitor.ForceCleanup()
		e.logStats("crawl progress")
	}
}

// processOne runs a dequeued entry through the attempt state machine.
func (e *Engine) processOne(ctx context.Context, entry FrontierEntry) Outcome {
	logger := e.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))
	host, err := HostOf(entry.URL)
	if err != nil {
		logger.Debug("discarding entry with unusable url", zap.Error(err))
		return e.finish(entry, OutcomeDiscarded, 0)
	}

	if e.cfg.MaxPagesPerDomain > 0 {
		n, err := e.scheduler.RequestsToday(ctx, host)
		if err != nil {
			logger.Warn("host counter unavailable", zap.Error(err))
		} else if n >= e.cfg.MaxPagesPerDomain {
			logger.Debug("per-domain page budget reached", zap.Int64("requests_today", n))
			return e.finish(entry, OutcomeSkipped, 0)
		}
	}

	allowed, err := e.scheduler.CanCrawlHost(ctx, entry.URL)
	if err != nil {
		logger.Warn("host gate unavailable; re-queueing", zap.Error(err))
		e.requeue(ctx, entry)
		return OutcomeDeferred
	}
	if !allowed {
		metrics.ObserveDeferral()
		e.stats.deferred.Add(1)
		e.requeue(ctx, entry)
		return OutcomeDeferred
	}

	if !e.robots.CanFetch(ctx, entry.URL) {
		logger.Debug("disallowed by robots.txt", zap.Error(ErrPolicyDenied))
		e.recordCrawl(ctx, entry.URL, false)
		return e.finish(entry, OutcomeSkipped, 0)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.requeue(ctx, entry)
			return OutcomeDeferred
		}
	}

	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: entry.URL, Depth: entry.Depth})
	if err != nil {
		if errors.Is(err, ErrOversizedResponse) {
			logger.Warn("response too large; discarding", zap.Error(err))
			e.recordCrawl(ctx, entry.URL, true)
			return e.finish(entry, OutcomeDiscarded, 0)
		}
		kind := Classify(err)
		logger.Info("fetch failed", zap.String("kind", string(kind)), zap.Error(err))
		e.sink.StoreError(ctx, ErrorRecord{
			RunID:      e.cfg.RunID,
			URL:        entry.URL,
			Domain:     host,
			Kind:       kind,
			Message:    err.Error(),
			StatusCode: statusCodeOf(err),
			RetryCount: 0,
			OccurredAt: e.clock.Now(),
		})
		e.recordCrawl(ctx, entry.URL, false)
		return e.finish(entry, OutcomeFailed, 0)
	}
	metrics.ObserveFetchDuration(host, resp.Duration)
	if resp.Truncated {
		logger.Debug("response body truncated at cap", zap.Int("bytes", len(resp.Body)))
	}

	extraction := e.extractor.Extract(resp.Body, entry.URL)
	e.enqueueLinks(ctx, entry, extraction.Links)

	path := "/"
	if parsed, perr := url.Parse(entry.URL); perr == nil && parsed.Path != "" {
		path = parsed.Path
	}
	e.sink.StoreResult(ctx, ResultRecord{
		RunID:          e.cfg.RunID,
		URL:            entry.URL,
		Domain:         host,
		Path:           path,
		Extraction:     extraction,
		LinksCount:     len(extraction.Links),
		Depth:          entry.Depth,
		ResponseSize:   len(resp.Body),
		ResponseTimeMs: resp.Duration.Milliseconds(),
		StatusCode:     resp.StatusCode,
		ContentType:    resp.ContentType,
		CrawledAt:      e.clock.Now(),
	})
	e.recordCrawl(ctx, entry.URL, true)
	return e.finish(entry, OutcomeSucceeded, len(resp.Body))
}

func (e *Engine) finish(entry FrontierEntry, outcome Outcome, bytes int) Outcome {
	switch outcome {
	case OutcomeSucceeded:
		e.stats.successful.Add(1)
	case OutcomeFailed:
		e.stats.failed.Add(1)
	case OutcomeSkipped:
		e.stats.skipped.Add(1)
	case OutcomeDiscarded:
		e.stats.discarded.Add(1)
	}
	metrics.ObserveCrawl(entry.URL, string(outcome), bytes)
	return outcome
}

func (e *Engine) enqueueLinks(ctx context.Context, entry FrontierEntry, links []string) {
	if entry.Depth+1 > e.frontier.cfg.MaxDepth {
		return
	}
	queued := 0
	for _, link := range links {
		if queued >= e.cfg.MaxLinksPerPage {
			break
		}
		if !e.domains.AllowsURL(link) {
			continue
		}
		queued++
		err := e.withRetry(ctx, func() error {
			_, err := e.frontier.Add(ctx, link, linkPriority, entry.Depth+1)
			return err
		})
		if err != nil {
			e.logger.Warn("dropping discovered link", zap.String("link", link), zap.Error(err))
		}
	}
}

func (e *Engine) requeue(ctx context.Context, entry FrontierEntry) {
	if err := e.withRetry(ctx, func() error { return e.frontier.Requeue(ctx, entry) }); err != nil {
		e.logger.Error("re-queue failed; url dropped", zap.String("url", entry.URL), zap.Error(err))
	}
}

func (e *Engine) recordCrawl(ctx context.Context, rawURL string, success bool) {
	if err := e.withRetry(ctx, func() error { return e.scheduler.RecordCrawl(ctx, rawURL, success) }); err != nil {
		e.logger.Warn("host counters not updated", zap.String("url", rawURL), zap.Error(err))
	}
}

// withRetry runs op, backing off between attempts while the retry policy
// allows it.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !e.retry.ShouldRetry(err, attempt) {
			return err
		}
		e.sleeper.Sleep(ctx, e.retry.Backoff(attempt))
	}
}

func (e *Engine) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()
	e.checkHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkHealth(ctx)
		}
	}
}

func (e *Engine) checkHealth(ctx context.Context) {
	snap, err := e.monitor.Sample()
	if err != nil {
		e.logger.Warn("resource sample failed", zap.Error(err))
	} else {
		e.lastSnap.Store(&snap)
		metrics.SetResources(snap.MemoryMB, snap.CPUPercent)
		switch {
		case snap.MemoryRatio >= memoryCleanupRatio:
			e.logger.Warn("memory near ceiling; forcing cleanup", zap.Float64("memory_mb", snap.MemoryMB))
			e.monitor.ForceCleanup()
		case snap.MemoryRatio >= memoryWarnRatio:
			e.logger.Warn("memory usage high", zap.Float64("memory_mb", snap.MemoryMB))
		}
	}
	if n, err := e.frontier.Size(ctx); err == nil {
		metrics.SetFrontierSize(n)
	}
	if err := e.Ready(ctx); err != nil {
		e.logger.Error("durable store unreachable", zap.Error(err))
	}
}

func (e *Engine) logStats(msg string) {
	s := e.Stats()
	e.logger.Info(msg,
		zap.Int64("processed", s.Processed),
		zap.Int64("successful", s.Successful),
		zap.Int64("failed", s.Failed),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("discarded", s.Discarded),
		zap.Int64("deferred", s.Deferred),
		zap.Float64("pages_per_minute", s.PagesPerMin),
		zap.Int("concurrency", e.concurrency.Level()),
	)
}
