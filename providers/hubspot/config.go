package hubspot

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ProviderID         = "hubspot"
	AuthURL            = "https://app.hubspot.com/oauth/authorize"
	TokenURL           = "https://api.hubapi.com/oauth/v1/token"
	APIBaseURL         = "https://api.hubapi.com"
	DefaultRedirectURI = "http://localhost:3000/oauth-callback"
	DefaultScope       = "crm.objects.contacts.read"
)

type Config struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
	AuthURL      string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string   `koanf:"token_url" mapstructure:"token_url"`
	APIBaseURL   string   `koanf:"api_base_url" mapstructure:"api_base_url"`
}

func DefaultConfig() Config {
	return Config{
		RedirectURI: DefaultRedirectURI,
		Scopes:      []string{DefaultScope},
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		APIBaseURL:  APIBaseURL,
	}
}

// WithDefaults fills every empty field from DefaultConfig.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	if strings.TrimSpace(c.RedirectURI) == "" {
		c.RedirectURI = defaults.RedirectURI
	}
	if len(c.Scopes) == 0 {
		c.Scopes = defaults.Scopes
	}
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = defaults.APIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("hubspot: client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("hubspot: client_secret is required")
	}
	return nil
}

var scopeSeparator = regexp.MustCompile(`(?:%20|,\s?| )`)

// ParseScopes splits a scope setting on spaces, commas and encoded spaces.
func ParseScopes(raw string) []string {
	parts := scopeSeparator.Split(strings.TrimSpace(raw), -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
