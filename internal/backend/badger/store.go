// Package badgerbackend implements backend.Store on an embedded Badger
// database, for single-process runs that still want a durable frontier.
package badgerbackend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

const maxConflictRetries = 10

var (
	queuePrefix = []byte("q/")
	kvPrefix    = []byte("k/")
)

// Config controls where Badger keeps its files.
type Config struct {
	Dir      string
	InMemory bool
}

// Store is a backend.Store on Badger. Frontier keys sort by descending
// score and then by insertion sequence, so equal scores pop FIFO.
type Store struct {
	db      *badger.DB
	logger  *zap.Logger
	seq     atomic.Uint64
	pending atomic.Int64
}

// New opens (or creates) the database.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Dir != "":
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	default:
		return nil, fmt.Errorf("badger.dir is required unless badger.in_memory is set")
	}
	opts = opts.WithLogger(newZapAdapter(logger.Named("badger"))).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &Store{db: db, logger: logger}
	s.seq.Store(uint64(time.Now().UnixNano()))
	n, err := s.countQueue()
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("badger close failed", zap.Error(cerr))
		}
		return nil, err
	}
	s.pending.Store(n)
	if n > 0 {
		logger.Info("resuming persisted frontier", zap.Int64("pending", n))
	}
	return s, nil
}

func (s *Store) countQueue() (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = queuePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count frontier: %w", err)
	}
	return n, nil
}

// update retries db.Update on transaction conflicts, which resolve quickly
// under concurrent workers.
func (s *Store) update(op string, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			if err != nil {
				return backend.Unavailable(op, err)
			}
			return nil
		}
	}
	return backend.Unavailable(op, fmt.Errorf("transaction conflict after %d retries", maxConflictRetries))
}

func kvKey(key string) []byte {
	out := make([]byte, 0, len(kvPrefix)+len(key))
	out = append(out, kvPrefix...)
	return append(out, key...)
}

func queueKey(score float64, seq uint64) []byte {
	bits := math.Float64bits(score)
	if score >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	// invert so that higher scores sort first
	bits = ^bits
	out := make([]byte, len(queuePrefix)+16)
	copy(out, queuePrefix)
	binary.BigEndian.PutUint64(out[len(queuePrefix):], bits)
	binary.BigEndian.PutUint64(out[len(queuePrefix)+8:], seq)
	return out
}

// EnqueueUnseen implements backend.Store.
func (s *Store) EnqueueUnseen(
	_ context.Context,
	seenKey string,
	seenTTL time.Duration,
	member string,
	score float64,
) (bool, error) {
	inserted := false
	qk := queueKey(score, s.seq.Add(1))
	err := s.update("badger enqueue", func(txn *badger.Txn) error {
		inserted = false
		_, err := txn.Get(kvKey(seenKey))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(kvKey(seenKey), []byte{1}).WithTTL(seenTTL)); err != nil {
			return err
		}
		if err := txn.Set(qk, []byte(member)); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if inserted {
		s.pending.Add(1)
	}
	return inserted, nil
}

// Push implements backend.Store.
func (s *Store) Push(_ context.Context, member string, score float64) error {
	qk := queueKey(score, s.seq.Add(1))
	if err := s.update("badger push", func(txn *badger.Txn) error {
		return txn.Set(qk, []byte(member))
	}); err != nil {
		return err
	}
	s.pending.Add(1)
	return nil
}

// PopMax implements backend.Store.
func (s *Store) PopMax(_ context.Context) (string, bool, error) {
	var member []byte
	err := s.update("badger pop", func(txn *badger.Txn) error {
		member = nil
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 1
		opts.Prefix = queuePrefix
		it := txn.NewIterator(opts)
		it.Rewind()
		if !it.Valid() {
			it.Close()
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		it.Close()
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		member = val
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if member == nil {
		return "", false, nil
	}
	s.pending.Add(-1)
	return string(member), true, nil
}

// Len implements backend.Store.
func (s *Store) Len(context.Context) (int64, error) {
	return s.pending.Load(), nil
}

// Exists implements backend.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Get implements backend.Store.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kvKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", false, backend.Unavailable("badger get", err)
	}
	return string(val), found, nil
}

// Set implements backend.Store.
func (s *Store) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	return s.update("badger set", func(txn *badger.Txn) error {
		e := badger.NewEntry(kvKey(key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// IncrWithTTL implements backend.Store.
func (s *Store) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.update("badger incr", func(txn *badger.Txn) error {
		k := kvKey(key)
		e := badger.NewEntry(k, nil)
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			n = 1
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
		case err != nil:
			return err
		default:
			raw, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			cur, perr := strconv.ParseInt(string(raw), 10, 64)
			if perr != nil {
				return fmt.Errorf("counter %s is not an integer: %w", key, perr)
			}
			n = cur + 1
			e.ExpiresAt = item.ExpiresAt()
		}
		e.Value = []byte(strconv.FormatInt(n, 10))
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReserveSlot implements backend.Store.
func (s *Store) ReserveSlot(
	_ context.Context,
	key string,
	now time.Time,
	minDelay, ttl time.Duration,
) (bool, error) {
	admitted := false
	nowMs := now.UnixMilli()
	err := s.update("badger reserve", func(txn *badger.Txn) error {
		admitted = false
		k := kvKey(key)
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			last, perr := strconv.ParseInt(string(raw), 10, 64)
			if perr == nil && nowMs-last < minDelay.Milliseconds() {
				return nil
			}
		}
		e := badger.NewEntry(k, []byte(strconv.FormatInt(nowMs, 10)))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		admitted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return admitted, nil
}

// Ping implements backend.Store.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return backend.Unavailable("badger ping", errors.New("database closed"))
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
