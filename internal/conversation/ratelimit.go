package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a user exceeded the per-window call budget.
var ErrRateLimited = errors.New("conversation: rate limit exceeded")

// RateLimiter is a per-user sliding counter in Redis. Increment and expire
// run in one pipeline so concurrent requests from the same user cannot
// undercount.
type RateLimiter struct {
	redis  *redis.Client
	max    int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing max calls per window per user.
func NewRateLimiter(rdb *redis.Client, max int, window time.Duration) *RateLimiter {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: rdb, max: max, window: window}
}

func rateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s", userID)
}

// Allow increments the user's counter and fails fast with ErrRateLimited when
// the count was already at the configured max before this call.
func (r *RateLimiter) Allow(ctx context.Context, userID string) error {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, rateLimitKey(userID))
	pipe.Expire(ctx, rateLimitKey(userID), r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: rate limit check: %w", err)
	}
	if incr.Val() > int64(r.max) {
		return ErrRateLimited
	}
	return nil
}
