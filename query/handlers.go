package query

import (
	"context"

	"github.com/goliatone/go-crm/core"
)

type AuthorizationReader interface {
	AuthorizationURL(ctx context.Context, req core.AuthorizeRequest) (core.AuthorizeResponse, error)
	IsAuthorized(ctx context.Context, identity core.Identity) (bool, error)
}

// CollectionReader walks a collection. A nil fetch selects the fetcher the
// reader was configured with.
type CollectionReader interface {
	FetchAll(ctx context.Context, fetch core.PageFetchFunc, req core.PagedRequest) ([]core.Record, error)
}

type AuthorizationURLQuery struct {
	reader AuthorizationReader
}

func NewAuthorizationURLQuery(reader AuthorizationReader) *AuthorizationURLQuery {
	return &AuthorizationURLQuery{reader: reader}
}

func (q *AuthorizationURLQuery) Query(ctx context.Context, msg AuthorizationURLMessage) (core.AuthorizeResponse, error) {
	if q == nil || q.reader == nil {
		return core.AuthorizeResponse{}, core.UnwiredHandlerError(TypeAuthorizationURL, "authorization reader")
	}
	return q.reader.AuthorizationURL(ctx, msg.Request)
}

type IsAuthorizedQuery struct {
	reader AuthorizationReader
}

func NewIsAuthorizedQuery(reader AuthorizationReader) *IsAuthorizedQuery {
	return &IsAuthorizedQuery{reader: reader}
}

func (q *IsAuthorizedQuery) Query(ctx context.Context, msg IsAuthorizedMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, core.UnwiredHandlerError(TypeIsAuthorized, "authorization reader")
	}
	return q.reader.IsAuthorized(ctx, msg.Identity)
}

type FetchCollectionQuery struct {
	reader CollectionReader
	fetch  core.PageFetchFunc
}

// NewFetchCollectionQuery binds fetch to every query; nil defers to the
// reader's own fetcher.
func NewFetchCollectionQuery(reader CollectionReader, fetch core.PageFetchFunc) *FetchCollectionQuery {
	return &FetchCollectionQuery{reader: reader, fetch: fetch}
}

func (q *FetchCollectionQuery) Query(ctx context.Context, msg FetchCollectionMessage) ([]core.Record, error) {
	if q == nil || q.reader == nil {
		return nil, core.UnwiredHandlerError(TypeFetchCollection, "collection reader")
	}
	return q.reader.FetchAll(ctx, q.fetch, msg.Request)
}
