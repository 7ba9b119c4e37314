package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultRefreshMargin   = 0.75
	defaultExchangeTimeout = 15 * time.Second
	defaultPageSize        = 100
	defaultMaxPageSize     = 100
)

type OAuthConfig struct {
	// RefreshMargin scales expires_in into the cache ttl. Must be in (0, 1).
	RefreshMargin   float64       `koanf:"refresh_margin" mapstructure:"refresh_margin"`
	ExchangeTimeout time.Duration `koanf:"exchange_timeout" mapstructure:"exchange_timeout"`
	StateTTL        time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	Scopes          []string      `koanf:"scopes" mapstructure:"scopes"`
}

type PaginationConfig struct {
	DefaultPageSize int `koanf:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size" mapstructure:"max_page_size"`
	// MaxPages bounds a single walk. Zero means unbounded.
	MaxPages int `koanf:"max_pages" mapstructure:"max_pages"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig      `koanf:"oauth" mapstructure:"oauth"`
	Pagination  PaginationConfig `koanf:"pagination" mapstructure:"pagination"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "crm",
		OAuth: OAuthConfig{
			RefreshMargin:   defaultRefreshMargin,
			ExchangeTimeout: defaultExchangeTimeout,
			StateTTL:        defaultOAuthStateTTL,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: defaultPageSize,
			MaxPageSize:     defaultMaxPageSize,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.RefreshMargin <= 0 || c.OAuth.RefreshMargin >= 1 {
		return fmt.Errorf("core: oauth.refresh_margin must be between 0 and 1, got %v", c.OAuth.RefreshMargin)
	}
	if c.OAuth.ExchangeTimeout < 0 {
		return fmt.Errorf("core: oauth.exchange_timeout is invalid")
	}
	if c.Pagination.MaxPageSize < 0 || c.Pagination.DefaultPageSize < 0 || c.Pagination.MaxPages < 0 {
		return fmt.Errorf("core: pagination values must not be negative")
	}
	if c.Pagination.MaxPageSize > 0 && c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("core: pagination.default_page_size exceeds max_page_size")
	}
	return nil
}
