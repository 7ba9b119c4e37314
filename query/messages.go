package query

import (
	"strings"

	"github.com/goliatone/go-crm/core"
)

const (
	TypeAuthorizationURL = "crm.query.authorization.url"
	TypeIsAuthorized     = "crm.query.authorization.status"
	TypeFetchCollection  = "crm.query.collection.fetch"
)

type AuthorizationURLMessage struct {
	Request core.AuthorizeRequest
}

func (AuthorizationURLMessage) Type() string { return TypeAuthorizationURL }

func (m AuthorizationURLMessage) Validate() error {
	if m.Request.Identity.IsZero() {
		return core.InvalidMessageError(TypeAuthorizationURL, "identity", "identity is required")
	}
	for _, scope := range m.Request.Scopes {
		if strings.TrimSpace(scope) == "" {
			return core.InvalidMessageError(TypeAuthorizationURL, "scopes", "scopes must not contain blank entries")
		}
	}
	return nil
}

type IsAuthorizedMessage struct {
	Identity core.Identity
}

func (IsAuthorizedMessage) Type() string { return TypeIsAuthorized }

func (m IsAuthorizedMessage) Validate() error {
	if m.Identity.IsZero() {
		return core.InvalidMessageError(TypeIsAuthorized, "identity", "identity is required")
	}
	return nil
}

type FetchCollectionMessage struct {
	Request core.PagedRequest
}

func (FetchCollectionMessage) Type() string { return TypeFetchCollection }

func (m FetchCollectionMessage) Validate() error {
	if strings.TrimSpace(string(m.Request.Resource)) == "" {
		return core.InvalidMessageError(TypeFetchCollection, "resource", "resource is required")
	}
	if m.Request.PageSize < 0 {
		return core.InvalidMessageError(TypeFetchCollection, "page_size", "page size must be >= 0")
	}
	return nil
}
