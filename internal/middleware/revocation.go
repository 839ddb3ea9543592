package middleware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"callrelay-backend/internal/database"
	"callrelay-backend/pkg/cache"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
)

// RedisRevocationChecker looks token ids up in the Redis blacklist. Tokens
// revoked through this instance are also kept in a local cache so they stay
// rejected while Redis is unavailable.
type RedisRevocationChecker struct {
	client *database.RedisClient
	local  *cache.MemoryCache
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *database.RedisClient) *RedisRevocationChecker {
	return &RedisRevocationChecker{
		client: client,
		local:  cache.NewMemoryCache(constants.AccessTokenExpiry, constants.LocalRevocationCacheSize),
	}
}

// StartCleanup drops expired local entries every interval until ctx is done
func (c *RedisRevocationChecker) StartCleanup(ctx context.Context, interval time.Duration) {
	stop := c.local.StartCleanup(interval)
	go func() {
		<-ctx.Done()
		stop()
	}()
}

func blacklistKey(tokenID string) string {
	return fmt.Sprintf("blacklist:%s", tokenID)
}

// IsTokenRevoked checks the local cache, then the Redis blacklist
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := blacklistKey(tokenID)
	if _, ok := c.local.Get(key); ok {
		return true, nil
	}

	exists, err := c.client.SafeExists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}

// Revoke blacklists a token id until the token would have expired anyway.
// A Redis failure is logged; the local entry still applies.
func (c *RedisRevocationChecker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := blacklistKey(tokenID)
	c.local.Set(key, true, ttl)

	if err := c.client.SafeSet(ctx, key, 1, ttl).Err(); err != nil {
		logger.Warn("Token revoked locally only, redis unavailable",
			zap.String("token_id", tokenID),
			zap.Error(err))
	}
	return nil
}
