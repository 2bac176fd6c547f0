package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

const seenKeyPrefix = "seen:"

// FrontierConfig controls dedup and depth limits.
type FrontierConfig struct {
	MaxDepth      int
	SeenTTL       time.Duration
	SeenCacheMode string
	SeenCacheSize int
}

// Frontier is the durable, deduplicated priority queue of pending URLs.
type Frontier struct {
	cfg    FrontierConfig
	store  backend.Store
	seen   SeenCache
	hasher Hasher
	clock  Clock
	logger *zap.Logger
}

// NewFrontier builds a Frontier on store.
func NewFrontier(cfg FrontierConfig, store backend.Store, hasher Hasher, clock Clock, logger *zap.Logger) *Frontier {
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = 24 * time.Hour
	}
	return &Frontier{
		cfg:    cfg,
		store:  store,
		seen:   NewSeenCache(cfg.SeenCacheMode, cfg.SeenCacheSize, cfg.SeenTTL, clock),
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Add enqueues rawURL unless it is too deep, malformed, or already seen.
// It reports whether a new entry was created.
func (f *Frontier) Add(ctx context.Context, rawURL string, priority, depth int) (bool, error) {
	if depth > f.cfg.MaxDepth || depth < 0 {
		return false, nil
	}
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		f.logger.Debug("dropping unparseable url", zap.String("url", rawURL), zap.Error(err))
		return false, nil
	}
	key, err := f.seenKey(normalized)
	if err != nil {
		return false, err
	}
	if f.seen.Contains(key) {
		return false, nil
	}

	member, err := json.Marshal(FrontierEntry{
		URL:        normalized,
		Priority:   priority,
		Depth:      depth,
		EnqueuedAt: f.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("encode frontier entry: %w", err)
	}
	inserted, err := f.store.EnqueueUnseen(ctx, key, f.cfg.SeenTTL, string(member), float64(priority))
	if err != nil {
		return false, fmt.Errorf("frontier add: %w", err)
	}
	f.seen.Add(key)
	return inserted, nil
}

// Requeue puts a deferred entry back with its original priority and depth.
// Its seen-record already exists, so dedup is bypassed.
func (f *Frontier) Requeue(ctx context.Context, entry FrontierEntry) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode frontier entry: %w", err)
	}
	if err := f.store.Push(ctx, string(member), float64(entry.Priority)); err != nil {
		return fmt.Errorf("frontier requeue: %w", err)
	}
	return nil
}

// Next removes and returns the highest-priority entry, or ErrQueueEmpty.
func (f *Frontier) Next(ctx context.Context) (FrontierEntry, error) {
	for {
		member, ok, err := f.store.PopMax(ctx)
		if err != nil {
			return FrontierEntry{}, fmt.Errorf("frontier next: %w", err)
		}
		if !ok {
			return FrontierEntry{}, ErrQueueEmpty
		}
		var entry FrontierEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil || entry.URL == "" {
			f.logger.Warn("discarding corrupt frontier entry", zap.String("member", member), zap.Error(err))
			continue
		}
		return entry, nil
	}
}

// Size returns the number of pending entries.
func (f *Frontier) Size(ctx context.Context) (int64, error) {
	n, err := f.store.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("frontier size: %w", err)
	}
	return n, nil
}

// SeenCacheLen reports how many keys the in-process cache holds.
func (f *Frontier) SeenCacheLen() int {
	return f.seen.Len()
}

func (f *Frontier) seenKey(normalized string) (string, error) {
	digest, err := f.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return seenKeyPrefix + digest, nil
}
