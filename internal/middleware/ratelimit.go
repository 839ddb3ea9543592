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

	"callrelay-backend/internal/database"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/response"
)

// RateLimiter implements a Redis fixed-window rate limit per user or client IP
type RateLimiter struct {
	client   *database.RedisClient
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter allowing requests per window
func NewRateLimiter(client *database.RedisClient, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting. It fails open
// while Redis is unavailable.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		count, resetAt, err := rl.hit(c.Request.Context(), identifier)
		if err != nil {
			logger.Debug("Rate limit check skipped", zap.String("identifier", identifier), zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if int(count) > rl.requests {
			response.Error(c, http.StatusTooManyRequests, string(apperrors.ErrCodeRateLimited), "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// hit counts one request in the current window and returns the count and
// the unix time the window resets
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int64, int64, error) {
	if rl.client.IsDegraded() {
		return 0, 0, database.ErrDegraded
	}

	windowSeconds := int64(rl.window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	windowStart := rl.now().Unix() / windowSeconds * windowSeconds
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, windowStart)

	var incr *redis.IntCmd
	_, err := rl.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	return incr.Val(), windowStart + windowSeconds, nil
}
