package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	windowKeyPrefix      = "detect:win:"
	suppressionKeyPrefix = "detect:sup:"
)

// RedisConfig holds Redis connection settings for the shared state store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisStore is a Store backed by Redis sorted sets scored by stored-at time.
// It lets multiple engine instances share window and suppression state, which
// the in-process MemoryStore cannot.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AppendAndList implements Store. ZADD, eviction and the read-back run inside
// MULTI/EXEC, so concurrent callers on the same key observe whole operations.
func (s *RedisStore) AppendAndList(ctx context.Context, key string, entry Entry, window time.Duration) ([]Entry, error) {
	now := time.Now()
	entry.StoredAt = now

	member, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}

	wkey := windowKeyPrefix + key
	cutoff := now.Add(-window)

	var rangeCmd *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, wkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.ZRemRangeByScore(ctx, wkey, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
		// Keys for quiet correlation keys expire on their own once the
		// window has passed with no writes.
		pipe.Expire(ctx, wkey, window)
		rangeCmd = pipe.ZRange(ctx, wkey, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", key, err)
	}

	return decodeEntries(rangeCmd.Val())
}

// ListInWindow implements Store without mutating stored state.
func (s *RedisStore) ListInWindow(ctx context.Context, key string, window time.Duration) ([]Entry, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-window).UnixNano(), 10)
	members, err := s.client.ZRangeByScore(ctx, windowKeyPrefix+key, &redis.ZRangeBy{
		Min: "(" + cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	return decodeEntries(members)
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-window).UnixNano(), 10)
	n, err := s.client.ZCount(ctx, windowKeyPrefix+key, "("+cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return int(n), nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, windowKeyPrefix+key).Err()
}

// MarkSuppressed implements Store. A zero ttl stores the marker without
// expiry, matching process-lifetime suppression on shared storage.
func (s *RedisStore) MarkSuppressed(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, suppressionKeyPrefix+key, "1", ttl).Err()
}

// IsSuppressed implements Store.
func (s *RedisStore) IsSuppressed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, suppressionKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check suppression %s: %w", key, err)
	}
	return n > 0, nil
}

// Stats implements Store. The scan is not atomic against writers.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	iter := s.client.Scan(ctx, 0, windowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stats.Keys++
		n, err := s.client.ZCard(ctx, iter.Val()).Result()
		if err != nil {
			return stats, fmt.Errorf("zcard %s: %w", iter.Val(), err)
		}
		stats.Entries += int(n)
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("scan windows: %w", err)
	}
	return stats, nil
}

func decodeEntries(members []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
