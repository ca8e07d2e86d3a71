// Package kv wraps the Redis client used as the system's KV store, cache,
// and durable stream backend. internal/chain, internal/metadata,
// internal/profiler, internal/scorer, internal/eventbus, and
// internal/alert's history all share one Store.
package kv

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin wrapper around *redis.Client.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to redisURL (a redis:// or rediss:// URL) and returns a Store.
func New(redisURL string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Store{rdb: redis.NewClient(opts), logger: logger}, nil
}

// Client exposes the underlying *redis.Client for packages (eventbus) that
// need the full Streams API surface directly.
func (s *Store) Client() *redis.Client { return s.rdb }

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// (redismock) and by callers that manage the client's lifecycle themselves.
func NewFromClient(rdb *redis.Client, logger *slog.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Get returns (value, true, nil) on hit, ("", false, nil) on miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes key=value with the given TTL (zero means no expiry), the
// read-through cache pattern used by chain/metadata/profiler.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// SetNX atomically sets key=value with ttl only if key does not already
// exist, returning true when the set happened. This is the dedup gate
// primitive used by the scorer.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// MGet performs a pipelined multi-get, returning a slice the same length as
// keys where a missing key yields "" (a miss cannot be told apart from a
// stored empty string).
func (s *Store) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

// ZAdd adds a member to a sorted set with the given score (e.g. alert
// history indexed by unix timestamp).
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRangeByScore returns members with score in [min,max], ascending.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min), Max: formatScore(max),
	}).Result()
}

// ZCount returns the number of members with score in [min,max].
func (s *Store) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.rdb.ZCount(ctx, key, formatScore(min), formatScore(max)).Result()
}

// ZRemRangeByScore removes members with score in [min,max], used to bound
// alert-history growth.
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.rdb.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func formatScore(f float64) string {
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsInf(f, 1) {
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NegInf and PosInf are convenience bounds for ZRangeByScore/ZCount callers
// that want an unbounded side of the range (e.g. alert history "all time").
func NegInf() float64 { return math.Inf(-1) }
func PosInf() float64 { return math.Inf(1) }
