// Package memory provides an in-process backend.Store for development and tests.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type value struct {
	data      string
	expiresAt time.Time
}

func (v value) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

// Store keeps the frontier in a heap and keys in a map. Nothing survives
// a restart.
type Store struct {
	mu     sync.Mutex
	clock  clock
	queue  entryHeap
	seq    uint64
	keys   map[string]value
	closed bool
}

// NewStore constructs a Store on the system clock.
func NewStore() *Store {
	return NewStoreWithClock(systemClock{})
}

// NewStoreWithClock constructs a Store whose TTLs follow c.
func NewStoreWithClock(c clock) *Store {
	return &Store{
		clock: c,
		keys:  make(map[string]value),
	}
}

var errClosed = fmt.Errorf("memory store closed: %w", backend.ErrUnavailable)

func (s *Store) lookup(key string) (value, bool) {
	v, ok := s.keys[key]
	if !ok {
		return value{}, false
	}
	if v.expired(s.clock.Now()) {
		delete(s.keys, key)
		return value{}, false
	}
	return v, true
}

func (s *Store) put(key, data string, ttl time.Duration) {
	v := value{data: data}
	if ttl > 0 {
		v.expiresAt = s.clock.Now().Add(ttl)
	}
	s.keys[key] = v
}

func (s *Store) push(member string, score float64) {
	s.seq++
	heap.Push(&s.queue, &queued{member: member, score: score, seq: s.seq})
}

// EnqueueUnseen implements backend.Store.
func (s *Store) EnqueueUnseen(_ context.Context, seenKey string, seenTTL time.Duration, member string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	if _, ok := s.lookup(seenKey); ok {
		return false, nil
	}
	s.put(seenKey, "1", seenTTL)
	s.push(member, score)
	return true, nil
}

// Push implements backend.Store.
func (s *Store) Push(_ context.Context, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.push(member, score)
	return nil
}

// PopMax implements backend.Store.
func (s *Store) PopMax(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errClosed
	}
	if s.queue.Len() == 0 {
		return "", false, nil
	}
	item, _ := heap.Pop(&s.queue).(*queued)
	return item.member, true, nil
}

// Len implements backend.Store.
func (s *Store) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	return int64(s.queue.Len()), nil
}

// Exists implements backend.Store.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	_, ok := s.lookup(key)
	return ok, nil
}

// Get implements backend.Store.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errClosed
	}
	v, ok := s.lookup(key)
	return v.data, ok, nil
}

// Set implements backend.Store.
func (s *Store) Set(_ context.Context, key string, data string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.put(key, data, ttl)
	return nil
}

// IncrWithTTL implements backend.Store.
func (s *Store) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	v, ok := s.lookup(key)
	if !ok {
		s.put(key, "1", ttl)
		return 1, nil
	}
	n, err := strconv.ParseInt(v.data, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	v.data = strconv.FormatInt(n, 10)
	s.keys[key] = v
	return n, nil
}

// ReserveSlot implements backend.Store.
func (s *Store) ReserveSlot(_ context.Context, key string, now time.Time, minDelay, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	nowMs := now.UnixMilli()
	if v, ok := s.lookup(key); ok {
		last, err := strconv.ParseInt(v.data, 10, 64)
		if err == nil && nowMs-last < minDelay.Milliseconds() {
			return false, nil
		}
	}
	s.put(key, strconv.FormatInt(nowMs, 10), ttl)
	return true, nil
}

// Ping implements backend.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close implements backend.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type queued struct {
	member string
	score  float64
	seq    uint64
}

type entryHeap []*queued

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	item, _ := x.(*queued)
	*h = append(*h, item)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
