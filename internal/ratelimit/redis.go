package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps attempt timestamps in a sorted set per username,
// scored by time. It is the store to use when several instances must
// share a single attempt window and the Postgres table is too hot a path.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis attempt store. ttl bounds how long a
// username's key may outlive its last attempt and should exceed the
// gate's window.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func attemptKey(username string) string {
	return "login_attempts:" + username
}

func (s *RedisStore) RecordLoginAttempt(username string, at time.Time) error {
	ctx := context.Background()
	key := attemptKey(username)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentAttempts(username string, since time.Time) ([]time.Time, error) {
	ctx := context.Background()
	key := attemptKey(username)

	// Prune before reading so the set stays window-sized.
	cutoff := strconv.FormatFloat(float64(since.UnixNano()), 'f', -1, 64)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune login attempts: %w", err)
	}

	scores, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read login attempts: %w", err)
	}

	out := make([]time.Time, 0, len(scores))
	for _, z := range scores {
		out = append(out, time.Unix(0, int64(z.Score)))
	}
	return out, nil
}
