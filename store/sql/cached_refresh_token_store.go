package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/goliatone/go-crm/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const refreshTokenCacheKeyPrefix = "go-crm::refresh_token::v1"

// CachedRefreshTokenStore is a read-through cache over a RefreshTokenStore.
// Writes go to the base store first and then drop the cached entry. The
// cache lives in process memory only, and only tokens that exist are cached:
// a miss always goes back to the base store, so a token written by another
// process is seen on the next read.
type CachedRefreshTokenStore struct {
	base  core.RefreshTokenStore
	cache repositorycache.CacheService
}

var errRefreshTokenMissing = errors.New("sqlstore: refresh token not found")

func NewCachedRefreshTokenStore(
	base core.RefreshTokenStore,
	cacheService repositorycache.CacheService,
) (*CachedRefreshTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base refresh token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: refresh token cache service is required")
	}
	return &CachedRefreshTokenStore{base: base, cache: cacheService}, nil
}

// RefreshTokenCacheKey returns go-crm::refresh_token::v1::<identity> with the
// identity URL-path escaped.
func RefreshTokenCacheKey(identity core.Identity) (string, error) {
	if identity.IsZero() {
		return "", fmt.Errorf("sqlstore: identity is required")
	}
	return refreshTokenCacheKeyPrefix + "::" + url.PathEscape(identity.String()), nil
}

func (s *CachedRefreshTokenStore) Get(ctx context.Context, identity core.Identity) (string, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return "", false, fmt.Errorf("sqlstore: cached refresh token store is not configured")
	}
	cacheKey, err := RefreshTokenCacheKey(identity)
	if err != nil {
		return "", false, err
	}
	token, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (string, error) {
		token, found, fetchErr := s.base.Get(ctx, identity)
		if fetchErr != nil {
			return "", fetchErr
		}
		if !found {
			return "", errRefreshTokenMissing
		}
		return token, nil
	})
	if errors.Is(err, errRefreshTokenMissing) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (s *CachedRefreshTokenStore) Put(ctx context.Context, identity core.Identity, refreshToken string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached refresh token store is not configured")
	}
	if err := s.base.Put(ctx, identity, refreshToken); err != nil {
		return err
	}
	return s.invalidate(ctx, identity)
}

func (s *CachedRefreshTokenStore) Delete(ctx context.Context, identity core.Identity) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached refresh token store is not configured")
	}
	if err := s.base.Delete(ctx, identity); err != nil {
		return err
	}
	return s.invalidate(ctx, identity)
}

func (s *CachedRefreshTokenStore) invalidate(ctx context.Context, identity core.Identity) error {
	cacheKey, err := RefreshTokenCacheKey(identity)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.RefreshTokenStore = (*CachedRefreshTokenStore)(nil)
