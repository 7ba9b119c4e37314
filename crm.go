// Package crm is the entry point of go-crm: OAuth2 token lifecycle and
// cursor pagination over the HubSpot CRM API.
package crm

import "github.com/goliatone/go-crm/core"

type Config = core.Config
type OAuthConfig = core.OAuthConfig
type PaginationConfig = core.PaginationConfig

type Option = core.Option

type Service = core.Service
type ServiceDependencies = core.ServiceDependencies

type Identity = core.Identity
type Cursor = core.Cursor
type ResourceType = core.ResourceType
type Record = core.Record
type PagedRequest = core.PagedRequest
type PageResult = core.PageResult
type PageFetchFunc = core.PageFetchFunc
type PageVisitor = core.PageVisitor
type Filter = core.Filter
type FilterGroup = core.FilterGroup
type Sort = core.Sort
type TokenPair = core.TokenPair

type TokenCache = core.TokenCache
type RefreshTokenStore = core.RefreshTokenStore
type OAuthExchanger = core.OAuthExchanger

type AuthorizeRequest = core.AuthorizeRequest
type AuthorizeResponse = core.AuthorizeResponse
type CompleteAuthorizationRequest = core.CompleteAuthorizationRequest
type CompleteAuthorizationResult = core.CompleteAuthorizationResult

type AuthError = core.AuthError
type FetchError = core.FetchError

var (
	ErrNotAuthorized   = core.ErrNotAuthorized
	ErrExchangeFailed  = core.ErrExchangeFailed
	ErrPageFailed      = core.ErrPageFailed
	ErrMalformedCursor = core.ErrMalformedCursor
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithRepositoryFactory = core.WithRepositoryFactory
	WithTokenCache        = core.WithTokenCache
	WithRefreshTokenStore = core.WithRefreshTokenStore
	WithExchanger         = core.WithExchanger
	WithAuthorizer        = core.WithAuthorizer
	WithOAuthStateStore   = core.WithOAuthStateStore
	WithPageFetcher       = core.WithPageFetcher
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
