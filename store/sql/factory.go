package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/ratelimit"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithCacheService puts a read-through cache in front of the refresh token
// store.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

// RepositoryFactory builds the SQL backed stores. It satisfies the factory
// shape accepted by core.WithRepositoryFactory.
type RepositoryFactory struct {
	db           *bun.DB
	secrets      core.SecretProvider
	cacheService repositorycache.CacheService

	refreshTokenStore   *RefreshTokenStore
	cachedRefreshTokens *CachedRefreshTokenStore
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, secrets core.SecretProvider, opts ...FactoryOption) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB(), secrets, opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, secrets core.SecretProvider, opts ...FactoryOption) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	factory := &RepositoryFactory{db: db, secrets: secrets}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	if err := factory.initStores(); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// RefreshTokenStore returns the cached store when a cache service was given.
func (f *RepositoryFactory) RefreshTokenStore() core.RefreshTokenStore {
	if f == nil {
		return nil
	}
	if f.cachedRefreshTokens != nil {
		return f.cachedRefreshTokens
	}
	return f.refreshTokenStore
}

func (f *RepositoryFactory) RateLimitStateStore() ratelimit.StateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) initStores() error {
	refreshTokens, err := NewRefreshTokenStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	f.refreshTokenStore = refreshTokens
	if f.cacheService != nil {
		cached, err := NewCachedRefreshTokenStore(refreshTokens, f.cacheService)
		if err != nil {
			return err
		}
		f.cachedRefreshTokens = cached
	}
	rateLimits, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = rateLimits
	return nil
}
