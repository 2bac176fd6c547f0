package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/polite-crawler/internal/backend"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
)

const robotsKeyPrefix = "robots:"

// RobotsConfig controls robots.txt fetching and caching.
type RobotsConfig struct {
	Respect      bool
	UserAgent    string
	CacheTTL     time.Duration
	ErrorTTL     time.Duration
	FetchTimeout time.Duration
	MaxBytes     int64
}

type cachedRobots struct {
	rules RobotsRuleSet
	data  *robotstxt.RobotsData
}

// RobotsCache fetches, caches, and evaluates robots.txt per host. Every
// failure resolves to "allowed".
type RobotsCache struct {
	cfg    RobotsConfig
	client *http.Client
	store  backend.Store
	clock  Clock
	logger *zap.Logger

	local  sync.Map
	flight singleflight.Group
}

// NewRobotsCache builds a RobotsCache. client may be nil.
func NewRobotsCache(cfg RobotsConfig, client *http.Client, store backend.Store, clock Clock, logger *zap.Logger) *RobotsCache {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &RobotsCache{
		cfg:    cfg,
		client: client,
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// CanFetch reports whether rawURL may be fetched by this crawler.
func (r *RobotsCache) CanFetch(ctx context.Context, rawURL string) bool {
	if !r.cfg.Respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	host := strings.ToLower(parsed.Hostname())
	entry, ok := r.lookup(ctx, host)
	if !ok {
		entry = r.load(ctx, parsed, host)
		metrics.ObserveRobotsLookup("fetched")
	} else {
		metrics.ObserveRobotsLookup("cached")
	}
	if entry.data == nil {
		return true
	}
	path := parsed.RequestURI()
	for _, group := range r.groups(entry.data) {
		if !group.Test(path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the cached crawl-delay for host, or zero. It never
// fetches.
func (r *RobotsCache) CrawlDelay(ctx context.Context, host string) time.Duration {
	if !r.cfg.Respect {
		return 0
	}
	entry, ok := r.lookup(ctx, strings.ToLower(host))
	if !ok || entry.data == nil {
		return 0
	}
	var delay time.Duration
	for _, group := range r.groups(entry.data) {
		delay = max(delay, group.CrawlDelay)
	}
	return delay
}

// groups returns the crawler's own group and the wildcard group. Both apply:
// a path must pass each, and the longer crawl-delay wins.
func (r *RobotsCache) groups(data *robotstxt.RobotsData) []*robotstxt.Group {
	own := data.FindGroup(r.cfg.UserAgent)
	wildcard := data.FindGroup("*")
	if wildcard == own {
		return []*robotstxt.Group{own}
	}
	return []*robotstxt.Group{own, wildcard}
}

// lookup checks the in-process cache, then the durable store.
func (r *RobotsCache) lookup(ctx context.Context, host string) (*cachedRobots, bool) {
	now := r.clock.Now()
	if v, ok := r.local.Load(host); ok {
		entry, _ := v.(*cachedRobots)
		if entry != nil && !entry.rules.Expired(now) {
			return entry, true
		}
		r.local.Delete(host)
	}
	raw, ok, err := r.store.Get(ctx, robotsKeyPrefix+host)
	if err != nil {
		r.logger.Debug("robots store lookup failed", zap.String("host", host), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rules RobotsRuleSet
	if err := json.Unmarshal([]byte(raw), &rules); err != nil || rules.Expired(now) {
		return nil, false
	}
	entry := r.parse(host, rules)
	r.local.Store(host, entry)
	return entry, true
}

func (r *RobotsCache) load(ctx context.Context, parsed *url.URL, host string) *cachedRobots {
	v, _, _ := r.flight.Do(host, func() (any, error) {
		rules := r.fetch(ctx, parsed)
		entry := r.parse(host, rules)
		r.local.Store(host, entry)
		r.persist(ctx, host, rules)
		return entry, nil
	})
	entry, _ := v.(*cachedRobots)
	if entry == nil {
		return &cachedRobots{}
	}
	return entry
}

func (r *RobotsCache) fetch(ctx context.Context, parsed *url.URL) RobotsRuleSet {
	now := r.clock.Now()
	failed := RobotsRuleSet{CachedAt: now, TTL: r.cfg.ErrorTTL}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return failed
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return failed
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("robots.txt unavailable; allowing access",
			zap.String("host", parsed.Host), zap.Int("status", resp.StatusCode))
		return failed
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes))
	if err != nil {
		r.logger.Warn("robots read failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return failed
	}
	return RobotsRuleSet{Raw: string(body), CachedAt: now, TTL: r.cfg.CacheTTL}
}

func (r *RobotsCache) parse(host string, rules RobotsRuleSet) *cachedRobots {
	entry := &cachedRobots{rules: rules}
	if strings.TrimSpace(rules.Raw) == "" {
		return entry
	}
	data, err := robotstxt.FromString(rules.Raw)
	if err != nil {
		r.logger.Debug("robots parse failed; allowing access", zap.String("host", host), zap.Error(err))
		return entry
	}
	entry.data = data
	return entry
}

func (r *RobotsCache) persist(ctx context.Context, host string, rules RobotsRuleSet) {
	payload, err := json.Marshal(rules)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, robotsKeyPrefix+host, string(payload), rules.TTL); err != nil {
		r.logger.Warn("robots cache write failed", zap.String("host", host), zap.Error(err))
	}
}

// Describe returns the cached rule set for host, if any.
func (r *RobotsCache) Describe(ctx context.Context, host string) (RobotsRuleSet, bool) {
	entry, ok := r.lookup(ctx, strings.ToLower(host))
	if !ok {
		return RobotsRuleSet{}, false
	}
	return entry.rules, true
}

func (r *RobotsCache) String() string {
	return fmt.Sprintf("RobotsCache(ua=%q)", r.cfg.UserAgent)
}
