package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/transport"
	"golang.org/x/oauth2"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	defaultTokenRequestTimeout       = 30 * time.Second
	maxTokenResponseBodyBytes  int64 = 1 << 20 // 1 MiB
)

type OAuth2Config struct {
	ID           string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// ClientSecretInBody sends client credentials as form fields instead of
	// HTTP basic auth.
	ClientSecretInBody bool
	// RedirectURIOnRefresh repeats redirect_uri on refresh_token grants.
	RedirectURIOnRefresh bool
	DefaultScopes        []string
	TokenRequestTimeout  time.Duration
	Now                  func() time.Time
	Transport            core.TransportAdapter
}

// OAuth2Exchanger performs authorization code and refresh token grants
// against one token endpoint. Rejections keep the raw endpoint payload.
type OAuth2Exchanger struct {
	cfg       OAuth2Config
	transport core.TransportAdapter
	oauth     oauth2.Config
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
	Raw              map[string]any
}

func NewOAuth2Exchanger(cfg OAuth2Config) (*OAuth2Exchanger, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	adapter := cfg.Transport
	if adapter == nil {
		adapter = transport.NewFormAdapter(&http.Client{Timeout: cfg.TokenRequestTimeout})
	}

	authStyle := oauth2.AuthStyleInHeader
	if cfg.ClientSecretInBody {
		authStyle = oauth2.AuthStyleInParams
	}
	return &OAuth2Exchanger{
		cfg:       cfg,
		transport: adapter,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       append([]string(nil), cfg.DefaultScopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: authStyle,
			},
		},
	}, nil
}

func (e *OAuth2Exchanger) ID() string {
	if e == nil {
		return ""
	}
	return e.cfg.ID
}

// AuthorizationURL builds the consent URL. Empty scopes fall back to the
// configured defaults.
func (e *OAuth2Exchanger) AuthorizationURL(state string, scopes []string) string {
	if e == nil || e.cfg.AuthURL == "" {
		return ""
	}
	cfg := e.oauth
	if normalized := normalizeScopes(scopes); len(normalized) > 0 {
		cfg.Scopes = normalized
	}
	return cfg.AuthCodeURL(strings.TrimSpace(state))
}

func (e *OAuth2Exchanger) ExchangeAuthorizationCode(ctx context.Context, code string) (core.TokenPair, error) {
	if e == nil {
		return core.TokenPair{}, fmt.Errorf("providers: oauth2 exchanger is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenPair{}, fmt.Errorf("providers: authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", GrantAuthorizationCode)
	form.Set("code", code)
	if e.cfg.RedirectURI != "" {
		form.Set("redirect_uri", e.cfg.RedirectURI)
	}
	payload, err := e.fetchToken(ctx, GrantAuthorizationCode, form)
	if err != nil {
		return core.TokenPair{}, err
	}
	return e.tokenPair(payload, ""), nil
}

// ExchangeRefreshToken redeems refreshToken. When the endpoint does not
// rotate the refresh token the one presented is carried over.
func (e *OAuth2Exchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	if e == nil {
		return core.TokenPair{}, fmt.Errorf("providers: oauth2 exchanger is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenPair{}, fmt.Errorf("providers: refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", GrantRefreshToken)
	form.Set("refresh_token", refreshToken)
	if e.cfg.RedirectURIOnRefresh && e.cfg.RedirectURI != "" {
		form.Set("redirect_uri", e.cfg.RedirectURI)
	}
	payload, err := e.fetchToken(ctx, GrantRefreshToken, form)
	if err != nil {
		return core.TokenPair{}, err
	}
	return e.tokenPair(payload, refreshToken), nil
}

func (e *OAuth2Exchanger) tokenPair(payload tokenEndpointPayload, fallbackRefresh string) core.TokenPair {
	refreshToken := strings.TrimSpace(payload.RefreshToken)
	if refreshToken == "" {
		refreshToken = fallbackRefresh
	}
	var expiresIn time.Duration
	if payload.ExpiresIn > 0 {
		expiresIn = time.Duration(payload.ExpiresIn) * time.Second
	}
	return core.TokenPair{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: refreshToken,
		TokenType:    normalizeTokenType(payload.TokenType),
		Scope:        payload.Scope,
		ExpiresIn:    expiresIn,
		IssuedAt:     e.cfg.Now().UTC(),
		Raw:          payload.Raw,
	}
}

func (e *OAuth2Exchanger) fetchToken(ctx context.Context, grantType string, form url.Values) (tokenEndpointPayload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", e.cfg.ClientID)
	headers := map[string]string{}
	if e.cfg.ClientSecret != "" {
		if e.cfg.ClientSecretInBody {
			values.Set("client_secret", e.cfg.ClientSecret)
		} else {
			headers["Authorization"] = basicAuthorization(e.cfg.ClientID, e.cfg.ClientSecret)
		}
	}

	response, err := e.transport.Do(ctx, core.TransportRequest{
		Method:               http.MethodPost,
		URL:                  e.cfg.TokenURL,
		Headers:              headers,
		Body:                 []byte(values.Encode()),
		Timeout:              e.cfg.TokenRequestTimeout,
		MaxResponseBodyBytes: maxTokenResponseBodyBytes,
	})
	if err != nil {
		return tokenEndpointPayload{}, core.ExchangeFailedError(core.ExchangeDetails{GrantType: grantType}, err)
	}

	details := core.ExchangeDetails{
		GrantType:  grantType,
		StatusCode: response.StatusCode,
		Payload:    response.Body,
	}
	payload, parseErr := parseTokenPayload(response.Body, headerValue(response.Headers, "Content-Type"))
	if parseErr == nil {
		details.ErrorCode = payload.ErrorCode
		details.Description = payload.ErrorDescription
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, core.ExchangeFailedError(details, nil)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, core.ExchangeFailedError(details, fmt.Errorf("providers: decode token response: %w", parseErr))
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, core.ExchangeFailedError(details, nil)
	}
	if payload.AccessToken == "" {
		details.Description = "token response missing access_token"
		return tokenEndpointPayload{}, core.ExchangeFailedError(details, nil)
	}
	return payload, nil
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

// parseTokenPayloadJSON also reads the status/message error shape some
// providers use instead of error/error_description.
func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	payload := tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
		Raw:              redactTokenFields(decoded),
	}
	if payload.ErrorCode == "" && payload.AccessToken == "" {
		if status := readAnyString(decoded["status"]); status != "" && !strings.EqualFold(status, "ok") {
			payload.ErrorCode = status
		}
	}
	if payload.ErrorDescription == "" {
		payload.ErrorDescription = readAnyString(decoded["message"])
	}
	return payload, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

// redactTokenFields keeps the non secret part of a token response.
func redactTokenFields(decoded map[string]any) map[string]any {
	out := make(map[string]any, len(decoded))
	for key, value := range decoded {
		switch key {
		case "access_token", "refresh_token", "id_token":
			continue
		}
		out[key] = value
	}
	return out
}

// basicAuthorization escapes both parts as RFC 6749 section 2.3.1 requires.
func basicAuthorization(clientID string, clientSecret string) string {
	credentials := url.QueryEscape(clientID) + ":" + url.QueryEscape(clientSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

func normalizeTokenType(value string) string {
	normalized := strings.TrimSpace(value)
	if normalized == "" || strings.EqualFold(normalized, "bearer") {
		return "Bearer"
	}
	return normalized
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

var (
	_ core.OAuthExchanger = (*OAuth2Exchanger)(nil)
	_ core.Authorizer     = (*OAuth2Exchanger)(nil)
)
