package core

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type accessTokenSource struct {
	ctx      context.Context
	provider AccessTokenProvider
	identity Identity
}

// NewTokenSource adapts provider to oauth2.TokenSource. Each Token call goes
// back to the provider, which serves from its cache while the token is valid.
func NewTokenSource(ctx context.Context, provider AccessTokenProvider, identity Identity) oauth2.TokenSource {
	return accessTokenSource{ctx: ctx, provider: provider, identity: identity}
}

func (s accessTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.provider.EnsureValidToken(s.ctx, s.identity)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// NewHTTPClient returns a client that signs every request with the current
// access token of identity. The source is not wrapped in a reuse cache so
// expiry stays owned by the provider.
func NewHTTPClient(ctx context.Context, provider AccessTokenProvider, identity Identity, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: NewTokenSource(ctx, provider, identity),
			Base:   base,
		},
	}
}
