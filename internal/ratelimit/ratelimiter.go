// Package ratelimit throttles billable requests per user.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is used to enforce per-user request limits on billable routes.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// NoopLimiter allows all requests. Used when Redis is not configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

// RateLimiter implements distributed sliding-window rate limiting using
// Redis sorted sets. A limit of 0 means unlimited.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow checks if a request should be allowed for the given user.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if rl.limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("ratelimit:%s", userID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.Pipeline()

	// Drop entries outside the window, count what remains, record this
	// request, and keep the key from lingering.
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return int(countCmd.Val()) < rl.limit, nil
}

// CurrentUsage returns the number of requests recorded in the current window.
func (rl *RateLimiter) CurrentUsage(ctx context.Context, userID string) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s", userID)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset clears the window for a user.
func (rl *RateLimiter) Reset(ctx context.Context, userID string) error {
	return rl.client.Del(ctx, fmt.Sprintf("ratelimit:%s", userID)).Err()
}
