package crawler

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Seen cache modes.
const (
	SeenCacheSample = "sample"
	SeenCacheBloom  = "bloom"
)

const evictFraction = 0.2

// SeenCache is the in-process fast path in front of the durable seen-set.
// It is advisory: a miss falls through to the store.
type SeenCache interface {
	Contains(key string) bool
	Add(key string)
	Len() int
}

// NewSeenCache builds the cache for mode. Unknown modes fall back to the
// sampled map.
func NewSeenCache(mode string, capacity int, ttl time.Duration, clock Clock) SeenCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if mode == SeenCacheBloom {
		return NewBloomSeenCache(capacity, ttl, clock)
	}
	return NewSampledSeenCache(capacity, ttl, clock)
}

// SampledSeenCache is a fixed-capacity map that evicts a random ~20% of
// its entries when it overflows. Entries older than ttl are ignored, so
// it never reports a key the durable store has already expired.
type SampledSeenCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    Clock
	entries  map[string]time.Time
}

// NewSampledSeenCache builds a SampledSeenCache.
func NewSampledSeenCache(capacity int, ttl time.Duration, clock Clock) *SampledSeenCache {
	return &SampledSeenCache{
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
		entries:  make(map[string]time.Time, capacity),
	}
}

// Contains implements SeenCache.
func (c *SampledSeenCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	added, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.ttl > 0 && c.clock.Now().Sub(added) >= c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

// Add implements SeenCache.
func (c *SampledSeenCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.clock.Now()
	if len(c.entries) > c.capacity {
		c.evictLocked()
	}
}

// Len implements SeenCache.
func (c *SampledSeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SampledSeenCache) evictLocked() {
	n := int(float64(len(c.entries)) * evictFraction)
	if n < 1 {
		n = 1
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
}

// BloomSeenCache is a probabilistic seen cache. It can report false
// positives at roughly the configured rate, which drops a URL that was
// never enqueued. It resets once it holds capacity keys or its oldest key
// is older than ttl.
type BloomSeenCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    Clock
	filter   *bloom.BloomFilter
	count    int
	since    time.Time
}

const bloomFalsePositiveRate = 0.001

// NewBloomSeenCache builds a BloomSeenCache.
func NewBloomSeenCache(capacity int, ttl time.Duration, clock Clock) *BloomSeenCache {
	return &BloomSeenCache{
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
		filter:   bloom.NewWithEstimates(uint(capacity), bloomFalsePositiveRate),
		since:    clock.Now(),
	}
}

// Contains implements SeenCache.
func (c *BloomSeenCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return c.filter.TestString(key)
}

// Add implements SeenCache.
func (c *BloomSeenCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	if c.count >= c.capacity {
		c.resetLocked()
	}
	if !c.filter.TestAndAddString(key) {
		c.count++
	}
}

// Len implements SeenCache. It counts distinct adds since the last reset.
func (c *BloomSeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *BloomSeenCache) expireLocked() {
	if c.ttl > 0 && c.clock.Now().Sub(c.since) >= c.ttl {
		c.resetLocked()
	}
}

func (c *BloomSeenCache) resetLocked() {
	c.filter.ClearAll()
	c.count = 0
	c.since = c.clock.Now()
}
