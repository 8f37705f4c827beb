// Package ratelimit keeps short-lived counters in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Once admits the call only when none of keys is cooling down, then puts all
// of them on cooldown for ttl.
func (l *Limiter) Once(ctx context.Context, ttl time.Duration, keys ...string) (bool, error) {
	n, err := l.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	pipe := l.client.TxPipeline()
	for _, key := range keys {
		pipe.Set(ctx, key, "", ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit set: %w", err)
	}
	return true, nil
}

// Allow counts a hit on key and admits at most limit hits per window. The
// window starts at the first hit.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit count: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit window: %w", err)
		}
	}
	return n <= int64(limit), nil
}

// Arm sets a budget of n attempts on key, valid for ttl.
func (l *Limiter) Arm(ctx context.Context, key string, n int, ttl time.Duration) error {
	if err := l.client.Set(ctx, key, n, ttl).Err(); err != nil {
		return fmt.Errorf("arm attempts: %w", err)
	}
	return nil
}

// Take spends one attempt and returns how many remain. A negative result
// means the budget was already spent or never armed.
func (l *Limiter) Take(ctx context.Context, key string) (int64, error) {
	n, err := l.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("take attempt: %w", err)
	}
	if n < 0 {
		_ = l.client.Del(ctx, key).Err()
	}
	return n, nil
}

func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	return l.client.Del(ctx, keys...).Err()
}
