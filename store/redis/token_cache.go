// Package redisstore keeps access tokens in redis so several processes share
// one cache. Entries expire through redis key expiry.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "crm:access_token:"

// Client is the part of redis.Cmdable the cache uses. *redis.Client,
// *redis.ClusterClient and *redis.Ring all satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Option func(*TokenCache)

func WithKeyPrefix(prefix string) Option {
	return func(c *TokenCache) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			c.prefix = trimmed
		}
	}
}

type TokenCache struct {
	client Client
	prefix string
}

func NewTokenCache(client Client, opts ...Option) (*TokenCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	cache := &TokenCache{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

func (c *TokenCache) Get(ctx context.Context, identity core.Identity) (string, bool, error) {
	key, err := c.key(identity)
	if err != nil {
		return "", false, nil
	}
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisstore: get %q: %w", identity, err)
	}
	return value, true, nil
}

// Put stores accessToken with ttl as the key expiry. A non positive ttl
// removes the entry.
func (c *TokenCache) Put(ctx context.Context, identity core.Identity, accessToken string, ttl time.Duration) error {
	key, err := c.key(identity)
	if err != nil {
		return err
	}
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("redisstore: access token is required")
	}
	if ttl <= 0 {
		return c.Delete(ctx, identity)
	}
	if err := c.client.Set(ctx, key, accessToken, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", identity, err)
	}
	return nil
}

func (c *TokenCache) Delete(ctx context.Context, identity core.Identity) error {
	key, err := c.key(identity)
	if err != nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", identity, err)
	}
	return nil
}

func (c *TokenCache) key(identity core.Identity) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("redisstore: token cache is not configured")
	}
	if identity.IsZero() {
		return "", fmt.Errorf("redisstore: identity is required")
	}
	return c.prefix + identity.String(), nil
}

var _ core.TokenCache = (*TokenCache)(nil)
