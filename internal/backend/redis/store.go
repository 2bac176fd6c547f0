// Package redisbackend implements backend.Store on Redis sorted sets, TTL keys
// and Lua scripts for the check-and-set operations.
package redisbackend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/JakeFAU/polite-crawler/internal/backend"
)

const defaultFrontierKey = "frontier"

// enqueueScript creates the seen marker and adds the frontier member in one step.
var enqueueScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// reserveScript admits a host request when the stored timestamp is old enough.
var reserveScript = goredis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and (tonumber(ARGV[1]) - tonumber(last)) < tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// incrScript increments a counter and sets its expiry on creation only.
var incrScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Config controls the Redis connection.
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	FrontierKey string
}

// Store is a backend.Store on Redis.
type Store struct {
	client      goredis.UniversalClient
	frontierKey string
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			return nil, fmt.Errorf("ping redis: %w (close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.FrontierKey), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, frontierKey string) *Store {
	if frontierKey == "" {
		frontierKey = defaultFrontierKey
	}
	return &Store{client: client, frontierKey: frontierKey}
}

// EnqueueUnseen implements backend.Store.
func (s *Store) EnqueueUnseen(
	ctx context.Context,
	seenKey string,
	seenTTL time.Duration,
	member string,
	score float64,
) (bool, error) {
	n, err := enqueueScript.Run(ctx, s.client,
		[]string{seenKey, s.frontierKey},
		seenTTL.Milliseconds(), score, member,
	).Int()
	if err != nil {
		return false, backend.Unavailable("redis enqueue", err)
	}
	return n == 1, nil
}

// Push implements backend.Store.
func (s *Store) Push(ctx context.Context, member string, score float64) error {
	if err := s.client.ZAdd(ctx, s.frontierKey, &goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return backend.Unavailable("redis zadd", err)
	}
	return nil
}

// PopMax implements backend.Store. Members with equal scores pop in
// reverse lexicographic order.
func (s *Store) PopMax(ctx context.Context) (string, bool, error) {
	res, err := s.client.ZPopMax(ctx, s.frontierKey, 1).Result()
	if err != nil {
		return "", false, backend.Unavailable("redis zpopmax", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected frontier member type %T", res[0].Member)
	}
	return member, true, nil
}

// Len implements backend.Store.
func (s *Store) Len(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.frontierKey).Result()
	if err != nil {
		return 0, backend.Unavailable("redis zcard", err)
	}
	return n, nil
}

// Exists implements backend.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, backend.Unavailable("redis exists", err)
	}
	return n > 0, nil
}

// Get implements backend.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, backend.Unavailable("redis get", err)
	}
	return val, true, nil
}

// Set implements backend.Store.
func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return backend.Unavailable("redis set", err)
	}
	return nil
}

// IncrWithTTL implements backend.Store.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, backend.Unavailable("redis incr", err)
	}
	return n, nil
}

// ReserveSlot implements backend.Store. Timestamps are stored as unix
// milliseconds.
func (s *Store) ReserveSlot(
	ctx context.Context,
	key string,
	now time.Time,
	minDelay, ttl time.Duration,
) (bool, error) {
	n, err := reserveScript.Run(ctx, s.client, []string{key},
		strconv.FormatInt(now.UnixMilli(), 10),
		minDelay.Milliseconds(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, backend.Unavailable("redis reserve", err)
	}
	return n == 1, nil
}

// Ping implements backend.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return backend.Unavailable("redis ping", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
