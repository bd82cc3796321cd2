package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
	"wayfarer-backend/pkg/response"
)

// RateLimiter is a fixed-window limiter keyed by user (or IP before auth)
type RateLimiter struct {
	redisClient *redis.Client
	requests    int
	window      time.Duration
	metrics     *metrics.Metrics
}

// NewRateLimiter allows requests per window. m may be nil.
func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
		metrics:     m,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			identifier = "user:" + userID.String()
		}

		count, ttl, err := rl.hit(c.Request.Context(), identifier)
		if err != nil {
			// fail open when redis is unavailable
			logger.Warn("Rate limit check failed", zap.String("identifier", identifier), zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if count > rl.requests {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(c.FullPath())
			}
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// hit increments the window counter, starting the window on first use.
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s", identifier)

	pipe := rl.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	remainingTTL := ttl.Val()
	if remainingTTL < 0 {
		remainingTTL = rl.window
	}
	return int(incr.Val()), remainingTTL, nil
}
