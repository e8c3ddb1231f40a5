package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps one sorted set per key, scored by request time in
// milliseconds. Check and record are separate round trips, so concurrent
// callers may briefly overshoot the limit.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "ratelimit:", now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := r.now()
	k := r.prefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+cutoff)
	count := pipe.ZCard(ctx, k)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read rate limit window: %w", err)
	}

	resetAt := now.Add(window)
	if first := oldest.Val(); len(first) > 0 {
		resetAt = time.UnixMilli(int64(first[0].Score)).Add(window)
	}

	used := int(count.Val())
	if used >= limit {
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt.Sub(now)),
		}, nil
	}

	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record rate limit hit: %w", err)
	}

	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - used - 1,
		ResetAt:   resetAt,
	}, nil
}
