package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/oauth2"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	repositoryFactory any
	tokenCache        TokenCache
	refreshTokenStore RefreshTokenStore
	exchanger         OAuthExchanger
	authorizer        Authorizer
	oauthStateStore   OAuthStateStore
	pageFetcher       PageFetchFunc
	coordinator       *RefreshCoordinator
	walker            *CollectionWalker
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	RepositoryFactory any
	TokenCache        TokenCache
	RefreshTokenStore RefreshTokenStore
	Exchanger         OAuthExchanger
	Authorizer        Authorizer
	OAuthStateStore   OAuthStateStore
}

type AuthorizeRequest struct {
	Identity Identity
	Scopes   []string
}

type AuthorizeResponse struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

type CompleteAuthorizationRequest struct {
	Identity Identity
	State    string
	Code     string
}

type CompleteAuthorizationResult struct {
	Identity           Identity
	Scope              string
	ExpiresIn          time.Duration
	RefreshTokenIssued bool
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("crm", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("crm"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = DefaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		if stores, ok := builder.repositoryFactory.(interface{ RefreshTokenStore() RefreshTokenStore }); ok && builder.refreshTokenStore == nil {
			builder.refreshTokenStore = stores.RefreshTokenStore()
		}
		if stores, ok := builder.repositoryFactory.(interface{ TokenCache() TokenCache }); ok && builder.tokenCache == nil {
			builder.tokenCache = stores.TokenCache()
		}
	}
	if builder.tokenCache == nil {
		builder.tokenCache = NewMemoryTokenCacheWithClock(builder.now)
	}
	if builder.refreshTokenStore == nil {
		builder.refreshTokenStore = NewMemoryRefreshTokenStore()
	}
	if builder.oauthStateStore == nil {
		stateStore := NewMemoryOAuthStateStore(finalConfig.OAuth.StateTTL)
		stateStore.now = builder.now
		builder.oauthStateStore = stateStore
	}
	if builder.authorizer == nil {
		if authorizer, ok := builder.exchanger.(Authorizer); ok {
			builder.authorizer = authorizer
		}
	}

	componentLogger := func(name string) Logger {
		if provider == nil {
			return logger
		}
		return glog.Ensure(provider.GetLogger(name))
	}

	var coordinator *RefreshCoordinator
	if builder.exchanger != nil {
		coordinator, err = NewRefreshCoordinator(
			builder.tokenCache,
			builder.refreshTokenStore,
			builder.exchanger,
			WithRefreshMargin(finalConfig.OAuth.RefreshMargin),
			WithExchangeTimeout(finalConfig.OAuth.ExchangeTimeout),
			WithCoordinatorLogger(componentLogger("crm.refresh")),
		)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}
	walker := NewCollectionWalker(
		WithPageSizeLimits(finalConfig.Pagination.DefaultPageSize, finalConfig.Pagination.MaxPageSize),
		WithMaxPages(finalConfig.Pagination.MaxPages),
		WithWalkerLogger(componentLogger("crm.walker")),
	)

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		repositoryFactory: builder.repositoryFactory,
		tokenCache:        builder.tokenCache,
		refreshTokenStore: builder.refreshTokenStore,
		exchanger:         builder.exchanger,
		authorizer:        builder.authorizer,
		oauthStateStore:   builder.oauthStateStore,
		pageFetcher:       builder.pageFetcher,
		coordinator:       coordinator,
		walker:            walker,
		now:               builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		RepositoryFactory: s.repositoryFactory,
		TokenCache:        s.tokenCache,
		RefreshTokenStore: s.refreshTokenStore,
		Exchanger:         s.exchanger,
		Authorizer:        s.authorizer,
		OAuthStateStore:   s.oauthStateStore,
	}
}

// Coordinator exposes the refresh coordinator for components that need raw
// typed errors, such as page fetchers.
func (s *Service) Coordinator() *RefreshCoordinator {
	if s == nil {
		return nil
	}
	return s.coordinator
}

func (s *Service) Walker() *CollectionWalker {
	if s == nil {
		return nil
	}
	return s.walker
}

func (s *Service) AuthorizationURL(ctx context.Context, req AuthorizeRequest) (response AuthorizeResponse, err error) {
	startedAt := s.now()
	fields := map[string]any{"identity": req.Identity.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "authorization_url", err, fields)
	}()

	if req.Identity.IsZero() {
		err = s.mapError(fmt.Errorf("core: identity is required"))
		return AuthorizeResponse{}, err
	}
	if s.authorizer == nil {
		err = s.mapError(fmt.Errorf("core: authorizer is not configured"))
		return AuthorizeResponse{}, err
	}

	state, err := generateOAuthState()
	if err != nil {
		err = s.mapError(err)
		return AuthorizeResponse{}, err
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = s.config.OAuth.Scopes
	}
	createdAt := s.now()
	record := OAuthStateRecord{
		State:     state,
		Identity:  req.Identity,
		Scopes:    scopes,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(s.config.OAuth.StateTTL),
	}
	if err = s.oauthStateStore.Save(ctx, record); err != nil {
		err = s.mapError(err)
		return AuthorizeResponse{}, err
	}

	return AuthorizeResponse{
		URL:       s.authorizer.AuthorizationURL(state, scopes),
		State:     state,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// CompleteAuthorization exchanges an authorization code, stores the refresh
// token and seeds the access token cache. When State is set it must match
// a state issued by AuthorizationURL and decides the identity.
func (s *Service) CompleteAuthorization(
	ctx context.Context,
	req CompleteAuthorizationRequest,
) (result CompleteAuthorizationResult, err error) {
	startedAt := s.now()
	fields := map[string]any{"identity": req.Identity.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return CompleteAuthorizationResult{}, err
	}
	if s.coordinator == nil {
		err = s.mapError(fmt.Errorf("core: oauth exchanger is not configured"))
		return CompleteAuthorizationResult{}, err
	}

	identity := req.Identity
	if strings.TrimSpace(req.State) != "" {
		record, consumeErr := s.oauthStateStore.Consume(ctx, req.State)
		if consumeErr != nil {
			err = s.mapError(consumeErr)
			return CompleteAuthorizationResult{}, err
		}
		if !identity.IsZero() && cacheKey(identity) != cacheKey(record.Identity) {
			err = s.mapError(fmt.Errorf("core: oauth state identity mismatch"))
			return CompleteAuthorizationResult{}, err
		}
		identity = record.Identity
		fields["identity"] = identity.String()
	}
	if identity.IsZero() {
		err = s.mapError(fmt.Errorf("core: identity is required"))
		return CompleteAuthorizationResult{}, err
	}

	exchangeCtx := ctx
	if timeout := s.config.OAuth.ExchangeTimeout; timeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	pair, err := s.exchanger.ExchangeAuthorizationCode(exchangeCtx, code)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			err = authErr.WithIdentity(identity)
		}
		err = s.mapError(err)
		return CompleteAuthorizationResult{}, err
	}
	if err = s.coordinator.Seed(ctx, identity, pair); err != nil {
		err = s.mapError(err)
		return CompleteAuthorizationResult{}, err
	}

	fields["refresh_token_issued"] = pair.RefreshToken != ""
	return CompleteAuthorizationResult{
		Identity:           identity,
		Scope:              pair.Scope,
		ExpiresIn:          pair.ExpiresIn,
		RefreshTokenIssued: pair.RefreshToken != "",
	}, nil
}

func (s *Service) EnsureValidToken(ctx context.Context, identity Identity) (token string, err error) {
	startedAt := s.now()
	fields := map[string]any{"identity": identity.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "ensure_valid_token", err, fields)
	}()

	if s.coordinator == nil {
		err = s.mapError(fmt.Errorf("core: oauth exchanger is not configured"))
		return "", err
	}
	token, err = s.coordinator.EnsureValidToken(ctx, identity)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	return token, nil
}

// IsAuthorized reports whether a refresh token is on record for identity.
func (s *Service) IsAuthorized(ctx context.Context, identity Identity) (authorized bool, err error) {
	startedAt := s.now()
	fields := map[string]any{"identity": identity.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "is_authorized", err, fields)
	}()

	if identity.IsZero() {
		err = s.mapError(fmt.Errorf("core: identity is required"))
		return false, err
	}
	_, authorized, err = s.refreshTokenStore.Get(ctx, identity)
	if err != nil {
		err = s.mapError(err)
		return false, err
	}
	fields["authorized"] = authorized
	return authorized, nil
}

// Disconnect forgets every token held for identity.
func (s *Service) Disconnect(ctx context.Context, identity Identity) (err error) {
	startedAt := s.now()
	fields := map[string]any{"identity": identity.String()}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if identity.IsZero() {
		err = s.mapError(fmt.Errorf("core: identity is required"))
		return err
	}
	if s.coordinator != nil {
		err = s.coordinator.Forget(ctx, identity)
	} else {
		if err = s.tokenCache.Delete(ctx, identity); err == nil {
			err = s.refreshTokenStore.Delete(ctx, identity)
		}
	}
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// FetchAll walks every page of req. A nil fetch falls back to the fetcher
// configured with WithPageFetcher.
func (s *Service) FetchAll(ctx context.Context, fetch PageFetchFunc, req PagedRequest) (items []Record, err error) {
	startedAt := s.now()
	fields := map[string]any{"resource": string(req.Resource)}
	defer func() {
		fields["items"] = len(items)
		s.observeOperation(ctx, startedAt, "fetch_all", err, fields)
	}()

	if fetch == nil {
		fetch = s.pageFetcher
	}
	items, err = s.walker.FetchAll(ctx, fetch, req)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return items, nil
}

func (s *Service) Walk(ctx context.Context, fetch PageFetchFunc, req PagedRequest, visit PageVisitor) (err error) {
	startedAt := s.now()
	pages := 0
	fields := map[string]any{"resource": string(req.Resource)}
	defer func() {
		fields["pages"] = pages
		s.observeOperation(ctx, startedAt, "walk", err, fields)
	}()

	if fetch == nil {
		fetch = s.pageFetcher
	}
	err = s.walker.Walk(ctx, fetch, req, func(ctx context.Context, page int, result PageResult) error {
		pages = page
		if visit == nil {
			return nil
		}
		return visit(ctx, page, result)
	})
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) TokenSource(ctx context.Context, identity Identity) oauth2.TokenSource {
	return NewTokenSource(ctx, s, identity)
}

func (s *Service) HTTPClient(ctx context.Context, identity Identity) *http.Client {
	return NewHTTPClient(ctx, s, identity, nil)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
