package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// RefreshCoordinator hands out valid access tokens, running at most one
// grant exchange per identity at a time.
type RefreshCoordinator struct {
	cache     TokenCache
	store     RefreshTokenStore
	exchanger OAuthExchanger
	margin    float64
	timeout   time.Duration
	logger    Logger
	flights   singleflight.Group
	epochs    sync.Map
}

// identityEpoch serializes token writes for one identity. gen moves on every
// Seed and Forget so a flight that started earlier can tell its result is
// stale.
type identityEpoch struct {
	mu  sync.Mutex
	gen uint64
}

type CoordinatorOption func(*RefreshCoordinator)

func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *RefreshCoordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRefreshMargin(margin float64) CoordinatorOption {
	return func(c *RefreshCoordinator) {
		if margin > 0 && margin < 1 {
			c.margin = margin
		}
	}
}

// WithExchangeTimeout bounds a single exchange. Zero leaves only the caller's
// context in charge.
func WithExchangeTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *RefreshCoordinator) {
		if timeout >= 0 {
			c.timeout = timeout
		}
	}
}

func NewRefreshCoordinator(
	cache TokenCache,
	store RefreshTokenStore,
	exchanger OAuthExchanger,
	opts ...CoordinatorOption,
) (*RefreshCoordinator, error) {
	if cache == nil {
		return nil, fmt.Errorf("core: token cache is required")
	}
	if store == nil {
		return nil, fmt.Errorf("core: refresh token store is required")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("core: oauth exchanger is required")
	}
	coordinator := &RefreshCoordinator{
		cache:     cache,
		store:     store,
		exchanger: exchanger,
		margin:    defaultRefreshMargin,
		timeout:   defaultExchangeTimeout,
		logger:    glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(coordinator)
		}
	}
	return coordinator, nil
}

// EnsureValidToken returns a cached access token or joins the single
// refresh flight for identity. Every caller joined to a flight receives the
// same token or the same error. A caller stops waiting when its own context
// ends; the flight itself runs under the context of the caller that started
// it, so cancelling that caller fails the flight for everyone.
func (c *RefreshCoordinator) EnsureValidToken(ctx context.Context, identity Identity) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: refresh coordinator is not configured")
	}
	if identity.IsZero() {
		return "", fmt.Errorf("core: identity is required")
	}
	if token, ok := c.cached(ctx, identity); ok {
		return token, nil
	}

	flight := c.flights.DoChan(cacheKey(identity), func() (any, error) {
		return c.refresh(ctx, identity)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-flight:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

// Seed records the pair produced by an authorization-code grant. A missing
// refresh token leaves any stored one in place.
func (c *RefreshCoordinator) Seed(ctx context.Context, identity Identity, pair TokenPair) error {
	if c == nil {
		return fmt.Errorf("core: refresh coordinator is not configured")
	}
	if identity.IsZero() {
		return fmt.Errorf("core: identity is required")
	}
	epoch := c.epoch(identity)
	epoch.mu.Lock()
	defer epoch.mu.Unlock()
	epoch.gen++

	if pair.RefreshToken != "" {
		if err := c.store.Put(ctx, identity, pair.RefreshToken); err != nil {
			return fmt.Errorf("core: persist refresh token: %w", err)
		}
	}
	return c.cache.Put(ctx, identity, pair.AccessToken, pair.CacheTTL(c.margin))
}

// Forget drops the cached access token and the stored refresh token. A
// refresh already in flight for identity keeps its slot, so no second
// exchange starts, but its result is discarded instead of written back.
func (c *RefreshCoordinator) Forget(ctx context.Context, identity Identity) error {
	if c == nil {
		return nil
	}
	epoch := c.epoch(identity)
	epoch.mu.Lock()
	defer epoch.mu.Unlock()
	epoch.gen++

	if err := c.cache.Delete(ctx, identity); err != nil {
		return err
	}
	return c.store.Delete(ctx, identity)
}

// IsAuthorized reports whether a refresh token is on record for identity.
func (c *RefreshCoordinator) IsAuthorized(ctx context.Context, identity Identity) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("core: refresh coordinator is not configured")
	}
	_, ok, err := c.store.Get(ctx, identity)
	return ok, err
}

func (c *RefreshCoordinator) epoch(identity Identity) *identityEpoch {
	value, _ := c.epochs.LoadOrStore(cacheKey(identity), &identityEpoch{})
	return value.(*identityEpoch)
}

func (c *RefreshCoordinator) generation(identity Identity) (*identityEpoch, uint64) {
	epoch := c.epoch(identity)
	epoch.mu.Lock()
	defer epoch.mu.Unlock()
	return epoch, epoch.gen
}

func (c *RefreshCoordinator) cached(ctx context.Context, identity Identity) (string, bool) {
	token, ok, err := c.cache.Get(ctx, identity)
	if err != nil {
		c.logger.Warn("token cache read failed", "identity", identity.String(), "error", err)
		return "", false
	}
	return token, ok
}

func (c *RefreshCoordinator) refresh(ctx context.Context, identity Identity) (string, error) {
	// a flight that finished just before this one may already have filled
	// the cache
	if token, ok := c.cached(ctx, identity); ok {
		return token, nil
	}

	epoch, gen := c.generation(identity)
	refreshToken, ok, err := c.store.Get(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("core: load refresh token: %w", err)
	}
	if !ok {
		return "", NotAuthorizedError(identity)
	}

	exchangeCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	pair, err := c.exchanger.ExchangeRefreshToken(exchangeCtx, refreshToken)
	if err != nil {
		c.logger.Error("refresh token exchange failed",
			"identity", identity.String(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err,
		)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", authErr.WithIdentity(identity)
		}
		return "", ExchangeFailedError(ExchangeDetails{GrantType: "refresh_token"}, err).WithIdentity(identity)
	}

	epoch.mu.Lock()
	defer epoch.mu.Unlock()
	if epoch.gen != gen {
		c.logger.Info("discarding refresh superseded by seed or disconnect", "identity", identity.String())
		if token, ok := c.cached(ctx, identity); ok {
			return token, nil
		}
		return "", NotAuthorizedError(identity)
	}

	if pair.RefreshToken != "" && pair.RefreshToken != refreshToken {
		if err := c.store.Put(ctx, identity, pair.RefreshToken); err != nil {
			return "", fmt.Errorf("core: persist rotated refresh token: %w", err)
		}
	}

	ttl := pair.CacheTTL(c.margin)
	if err := c.cache.Put(ctx, identity, pair.AccessToken, ttl); err != nil {
		c.logger.Warn("token cache write failed", "identity", identity.String(), "error", err)
	}
	c.logger.Debug("access token refreshed",
		"identity", identity.String(),
		"cache_ttl_ms", ttl.Milliseconds(),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return pair.AccessToken, nil
}
