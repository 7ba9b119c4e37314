package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crm/core"
)

var (
	_ gocmd.Querier[AuthorizationURLMessage, core.AuthorizeResponse] = (*AuthorizationURLQuery)(nil)
	_ gocmd.Querier[IsAuthorizedMessage, bool]                       = (*IsAuthorizedQuery)(nil)
	_ gocmd.Querier[FetchCollectionMessage, []core.Record]           = (*FetchCollectionQuery)(nil)
)
