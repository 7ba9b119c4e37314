package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type tokenCacheEntry struct {
	accessToken string
	expiresAt   time.Time
}

// MemoryTokenCache is a process local TokenCache. Expired entries are evicted
// lazily when read.
type MemoryTokenCache struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{now: func() time.Time { return time.Now().UTC() }}
}

// NewMemoryTokenCacheWithClock is used by tests to control expiry.
func NewMemoryTokenCacheWithClock(now func() time.Time) *MemoryTokenCache {
	cache := NewMemoryTokenCache()
	if now != nil {
		cache.now = now
	}
	return cache
}

func (c *MemoryTokenCache) Get(_ context.Context, identity Identity) (string, bool, error) {
	if c == nil {
		return "", false, fmt.Errorf("core: token cache is not configured")
	}
	if identity.IsZero() {
		return "", false, nil
	}
	key := cacheKey(identity)
	value, ok := c.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	entry := value.(*tokenCacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.entries.CompareAndDelete(key, value)
		return "", false, nil
	}
	return entry.accessToken, true, nil
}

func (c *MemoryTokenCache) Put(_ context.Context, identity Identity, accessToken string, ttl time.Duration) error {
	if c == nil {
		return fmt.Errorf("core: token cache is not configured")
	}
	if identity.IsZero() {
		return fmt.Errorf("core: identity is required")
	}
	key := cacheKey(identity)
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	if ttl <= 0 {
		c.entries.Delete(key)
		return nil
	}
	c.entries.Store(key, &tokenCacheEntry{
		accessToken: accessToken,
		expiresAt:   c.now().Add(ttl),
	})
	return nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, identity Identity) error {
	if c == nil {
		return nil
	}
	c.entries.Delete(cacheKey(identity))
	return nil
}

func cacheKey(identity Identity) string {
	return identity.String()
}

// MemoryRefreshTokenStore keeps refresh tokens for the life of the process.
type MemoryRefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: map[string]string{}}
}

func (s *MemoryRefreshTokenStore) Get(_ context.Context, identity Identity) (string, bool, error) {
	if s == nil {
		return "", false, fmt.Errorf("core: refresh token store is not configured")
	}
	s.mu.RLock()
	token, ok := s.tokens[cacheKey(identity)]
	s.mu.RUnlock()
	return token, ok && token != "", nil
}

func (s *MemoryRefreshTokenStore) Put(_ context.Context, identity Identity, refreshToken string) error {
	if s == nil {
		return fmt.Errorf("core: refresh token store is not configured")
	}
	if identity.IsZero() {
		return fmt.Errorf("core: identity is required")
	}
	key := cacheKey(identity)
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("core: refresh token is required")
	}
	s.mu.Lock()
	s.tokens[key] = refreshToken
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) Delete(_ context.Context, identity Identity) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.tokens, cacheKey(identity))
	s.mu.Unlock()
	return nil
}
