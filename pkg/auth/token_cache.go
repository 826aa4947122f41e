package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache records live session token ids. Backed by Redis in deployment;
// absence of a cache (nil) means signature validity alone decides.
type TokenCache interface {
	Put(ctx context.Context, tokenID string, userID int64, ttl time.Duration) error
	Has(ctx context.Context, tokenID string) (bool, error)
	Delete(ctx context.Context, tokenID string) error
}

type redisTokenCache struct {
	client *redis.Client
}

// NewRedisTokenCache wraps a Redis client as a TokenCache. Returns nil for a
// nil client so callers can pass the result straight to NewService.
func NewRedisTokenCache(client *redis.Client) TokenCache {
	if client == nil {
		return nil
	}
	return &redisTokenCache{client: client}
}

func sessionKey(tokenID string) string {
	return "session:" + tokenID
}

func (c *redisTokenCache) Put(ctx context.Context, tokenID string, userID int64, ttl time.Duration) error {
	if err := c.client.Set(ctx, sessionKey(tokenID), strconv.FormatInt(userID, 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (c *redisTokenCache) Has(ctx context.Context, tokenID string) (bool, error) {
	err := c.client.Get(ctx, sessionKey(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return true, nil
}

func (c *redisTokenCache) Delete(ctx context.Context, tokenID string) error {
	if err := c.client.Del(ctx, sessionKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
