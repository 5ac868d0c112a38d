package security

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// ScanRateLimit caps validation requests per station. A stuck or looping
// scanner app must not be able to flood the remote validation endpoint.
func (r *RateLimiter) ScanRateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			station := c.Request().Header.Get("X-Station-ID")
			if station == "" {
				station = c.RealIP()
			}
			key := fmt.Sprintf("ratelimit:scan:%s", station)

			count, err := r.redis.Incr(context.Background(), key).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(context.Background(), key, r.window)
				}
				if count > r.limit {
					return c.JSON(429, map[string]string{
						"error": "Too many scan requests",
					})
				}
			}

			return next(c)
		}
	}
}
