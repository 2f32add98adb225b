package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"logwarden/internal/config"
)

const (
	windowKeyPrefix   = "logwarden:window:"
	cooldownKeyPrefix = "logwarden:cooldown:"
)

// RedisState is a StateStore backed by Redis, for running multiple consumer
// instances against shared frequency state. Windows are sorted sets scored by
// event time; cooldowns are plain keys with a TTL.
type RedisState struct {
	client *redis.Client
}

// NewRedisState creates a Redis-backed state store and verifies connectivity.
func NewRedisState(ctx context.Context, cfg *config.RedisConfig) (*RedisState, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisState{client: client}, nil
}

// RecordAndCount appends ts to the keyed window, trims entries older than the
// window, and returns the remaining count. The set expires after the window
// so idle keys do not accumulate.
func (s *RedisState) RecordAndCount(ctx context.Context, key string, ts time.Time, window time.Duration) (int, error) {
	redisKey := windowKeyPrefix + key
	score := float64(ts.UnixMilli())
	cutoff := strconv.FormatInt(ts.Add(-window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score: score,
		// Member must be unique per observation or ZAdd collapses
		// same-millisecond events into one.
		Member: fmt.Sprintf("%d-%d", ts.UnixNano(), time.Now().UnixNano()),
	})
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	card := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to update window state: %w", err)
	}

	return int(card.Val()), nil
}

// LastFired reads the cooldown marker for the key.
func (s *RedisState) LastFired(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, cooldownKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read cooldown state: %w", err)
	}

	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown value %q: %w", val, err)
	}

	return time.UnixMilli(millis).UTC(), true, nil
}

// MarkFired writes a cooldown marker that Redis expires after ttl.
func (s *RedisState) MarkFired(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	err := s.client.Set(ctx, cooldownKeyPrefix+key, strconv.FormatInt(ts.UnixMilli(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write cooldown state: %w", err)
	}
	return nil
}

// ActiveCooldowns counts cooldown markers by scanning the key prefix.
func (s *RedisState) ActiveCooldowns(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, cooldownKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan cooldown keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Close closes the Redis client.
func (s *RedisState) Close() error {
	return s.client.Close()
}
