package security

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis     *redis.Client
	perMinute int64
}

func NewRateLimiter(redisClient *redis.Client, perMinute int64) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{redis: redisClient, perMinute: perMinute}
}

// CheckoutRateLimit caps reservation attempts per client IP with a simple
// redis counter that resets every minute. Counting is fail-open: if redis is
// unreachable the request proceeds.
func (r *RateLimiter) CheckoutRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := fmt.Sprintf("ratelimit:checkout:%s", e.RealIP())

		count, err := r.redis.Incr(context.Background(), key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(context.Background(), key, time.Minute)
			}
			if count > r.perMinute {
				return e.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Rate limit exceeded. Please try again later.",
				})
			}
		}

		return e.Next()
	}
}
