package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TokenCache maps an identity to its current access token. Get must report a
// miss once the ttl given to Put has elapsed, even if the entry was not yet
// evicted.
type TokenCache interface {
	Get(ctx context.Context, identity Identity) (string, bool, error)
	Put(ctx context.Context, identity Identity, accessToken string, ttl time.Duration) error
	Delete(ctx context.Context, identity Identity) error
}

// RefreshTokenStore holds the long lived refresh token of each authorized
// identity.
type RefreshTokenStore interface {
	Get(ctx context.Context, identity Identity) (string, bool, error)
	Put(ctx context.Context, identity Identity, refreshToken string) error
	Delete(ctx context.Context, identity Identity) error
}

type OAuthExchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) (TokenPair, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Authorizer builds the provider consent URL for the authorization-code flow.
type Authorizer interface {
	AuthorizationURL(state string, scopes []string) string
}

// PageFetchFunc fetches one page of a collection.
type PageFetchFunc func(ctx context.Context, req PagedRequest) (PageResult, error)

// PageVisitor receives each page of a walk in fetch order. Returning an
// error stops the walk.
type PageVisitor func(ctx context.Context, page int, result PageResult) error

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	QueryValues          map[string][]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// AccessTokenProvider is satisfied by anything that can hand out a valid
// access token for an identity.
type AccessTokenProvider interface {
	EnsureValidToken(ctx context.Context, identity Identity) (string, error)
}
