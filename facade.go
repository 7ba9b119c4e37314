package crm

import (
	"fmt"

	crmcommand "github.com/goliatone/go-crm/command"
	"github.com/goliatone/go-crm/core"
	crmquery "github.com/goliatone/go-crm/query"
)

type CommandQueryService interface {
	crmcommand.MutatingService
	crmquery.AuthorizationReader
	crmquery.CollectionReader
}

type Commands struct {
	CompleteAuthorization *crmcommand.CompleteAuthorizationCommand
	RefreshToken          *crmcommand.RefreshTokenCommand
	Disconnect            *crmcommand.DisconnectCommand
}

type Queries struct {
	AuthorizationURL *crmquery.AuthorizationURLQuery
	IsAuthorized     *crmquery.IsAuthorizedQuery
	FetchCollection  *crmquery.FetchCollectionQuery
}

// Facade groups the go-command handlers built over one service.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	fetch core.PageFetchFunc
}

// WithCollectionFetcher binds the page fetcher used by the FetchCollection
// query, typically the FetchPage method of one identity's client.
func WithCollectionFetcher(fetch core.PageFetchFunc) FacadeOption {
	return func(options *facadeOptions) {
		options.fetch = fetch
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("crm: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	return &Facade{
		service: service,
		commands: Commands{
			CompleteAuthorization: crmcommand.NewCompleteAuthorizationCommand(service),
			RefreshToken:          crmcommand.NewRefreshTokenCommand(service),
			Disconnect:            crmcommand.NewDisconnectCommand(service),
		},
		queries: Queries{
			AuthorizationURL: crmquery.NewAuthorizationURLQuery(service),
			IsAuthorized:     crmquery.NewIsAuthorizedQuery(service),
			FetchCollection:  crmquery.NewFetchCollectionQuery(service, cfg.fetch),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)
