package crm

import (
	"fmt"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/providers"
	"github.com/goliatone/go-crm/providers/hubspot"
	"github.com/goliatone/go-crm/ratelimit"
	"github.com/goliatone/go-crm/transport"
)

type HubSpotOption func(*hubSpotOptions)

type hubSpotOptions struct {
	transports     *transport.Registry
	rateLimitStore ratelimit.StateStore
	clientOptions  []hubspot.ClientOption
	serviceOptions []Option
}

// WithHTTPClient routes the token endpoint and CRM reads through client.
func WithHTTPClient(client transport.HTTPDoer) HubSpotOption {
	return func(o *hubSpotOptions) {
		o.transports = transport.NewDefaultRegistry(client)
	}
}

// WithTransportRegistry resolves the form, rest and json adapters from
// registry instead of the defaults.
func WithTransportRegistry(registry *transport.Registry) HubSpotOption {
	return func(o *hubSpotOptions) {
		o.transports = registry
	}
}

// WithRateLimitStore shares throttle state between clients and, with a SQL
// store, between processes.
func WithRateLimitStore(store ratelimit.StateStore) HubSpotOption {
	return func(o *hubSpotOptions) {
		o.rateLimitStore = store
	}
}

func WithClientOptions(opts ...hubspot.ClientOption) HubSpotOption {
	return func(o *hubSpotOptions) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

func WithServiceOptions(opts ...Option) HubSpotOption {
	return func(o *hubSpotOptions) {
		o.serviceOptions = append(o.serviceOptions, opts...)
	}
}

// HubSpot ties one HubSpot app to a service. Clients are built per portal
// identity and share the service's tokens and one rate limit policy.
type HubSpot struct {
	service       *Service
	exchanger     *providers.OAuth2Exchanger
	policy        *ratelimit.AdaptivePolicy
	rest          core.TransportAdapter
	search        core.TransportAdapter
	apiBaseURL    string
	clientOptions []hubspot.ClientOption
}

func NewHubSpot(cfg Config, app hubspot.Config, opts ...HubSpotOption) (*HubSpot, error) {
	options := hubSpotOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.transports == nil {
		options.transports = transport.NewDefaultRegistry(nil)
	}
	form, err := options.transports.Resolve(transport.KindForm)
	if err != nil {
		return nil, err
	}
	rest, err := options.transports.Resolve(transport.KindREST)
	if err != nil {
		return nil, err
	}
	search, err := options.transports.Resolve(transport.KindJSON)
	if err != nil {
		return nil, err
	}

	app = app.WithDefaults()
	exchanger, err := hubspot.NewExchanger(app, form)
	if err != nil {
		return nil, err
	}
	if len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = append([]string(nil), app.Scopes...)
	}

	serviceOptions := append([]Option{
		core.WithExchanger(exchanger),
		core.WithAuthorizer(exchanger),
	}, options.serviceOptions...)
	service, err := core.NewService(cfg, serviceOptions...)
	if err != nil {
		return nil, err
	}

	store := options.rateLimitStore
	if store == nil {
		store = ratelimit.NewMemoryStateStore()
	}
	return &HubSpot{
		service:       service,
		exchanger:     exchanger,
		policy:        ratelimit.NewAdaptivePolicy(store),
		rest:          rest,
		search:        search,
		apiBaseURL:    app.APIBaseURL,
		clientOptions: options.clientOptions,
	}, nil
}

func (h *HubSpot) Service() *Service {
	if h == nil {
		return nil
	}
	return h.service
}

func (h *HubSpot) Exchanger() *providers.OAuth2Exchanger {
	if h == nil {
		return nil
	}
	return h.exchanger
}

func (h *HubSpot) Client(identity Identity) (*hubspot.Client, error) {
	if h == nil || h.service == nil {
		return nil, fmt.Errorf("crm: hubspot is not configured")
	}
	opts := append([]hubspot.ClientOption{
		hubspot.WithBaseURL(h.apiBaseURL),
		hubspot.WithTransports(h.rest, h.search),
		hubspot.WithRateLimitPolicy(h.policy),
		hubspot.WithClientLogger(h.service.Dependencies().LoggerProvider.GetLogger("crm.hubspot")),
	}, h.clientOptions...)
	return hubspot.NewClient(h.service, identity, opts...)
}

func (h *HubSpot) Collections(identity Identity) (*hubspot.Collections, error) {
	client, err := h.Client(identity)
	if err != nil {
		return nil, err
	}
	return hubspot.NewCollections(h.service, client)
}

// Facade returns command and query handlers whose FetchCollection query
// reads through identity's client.
func (h *HubSpot) Facade(identity Identity) (*Facade, error) {
	client, err := h.Client(identity)
	if err != nil {
		return nil, err
	}
	return NewFacade(h.service, WithCollectionFetcher(client.FetchPage))
}
