package hubspot

import (
	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/providers"
)

// NewExchanger returns the token exchanger for a HubSpot app. HubSpot takes
// client credentials and the redirect URI as form fields on both grants.
func NewExchanger(cfg Config, adapter core.TransportAdapter) (*providers.OAuth2Exchanger, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return providers.NewOAuth2Exchanger(providers.OAuth2Config{
		ID:                   ProviderID,
		AuthURL:              cfg.AuthURL,
		TokenURL:             cfg.TokenURL,
		ClientID:             cfg.ClientID,
		ClientSecret:         cfg.ClientSecret,
		RedirectURI:          cfg.RedirectURI,
		ClientSecretInBody:   true,
		RedirectURIOnRefresh: true,
		DefaultScopes:        cfg.Scopes,
		Transport:            adapter,
	})
}
