package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/ratelimit"
	"github.com/goliatone/go-crm/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultRequestTimeout       = 30 * time.Second
	maxPageBodyBytes      int64 = 8 << 20 // 8 MiB
	rateLimitBucket             = "crm"
)

// Client reads CRM v3 object pages on behalf of one identity.
type Client struct {
	identity core.Identity
	tokens   core.AccessTokenProvider
	baseURL  string
	rest     core.TransportAdapter
	search   core.TransportAdapter
	policy   *ratelimit.AdaptivePolicy
	logger   core.Logger
	timeout  time.Duration
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTransports sets the adapters used for list (GET) and search (POST JSON)
// calls. A nil adapter keeps the default.
func WithTransports(rest core.TransportAdapter, search core.TransportAdapter) ClientOption {
	return func(c *Client) {
		if rest != nil {
			c.rest = rest
		}
		if search != nil {
			c.search = search
		}
	}
}

func WithRateLimitPolicy(policy *ratelimit.AdaptivePolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithClientLogger(logger core.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func NewClient(tokens core.AccessTokenProvider, identity core.Identity, opts ...ClientOption) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("hubspot: access token provider is required")
	}
	if identity.IsZero() {
		return nil, fmt.Errorf("hubspot: identity is required")
	}
	client := &Client{
		identity: identity,
		tokens:   tokens,
		baseURL:  APIBaseURL,
		rest:     transport.NewRESTAdapter(nil),
		search:   transport.NewJSONAdapter(nil),
		policy:   ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
		logger:   glog.Nop(),
		timeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) Identity() core.Identity {
	return c.identity
}

// FetchPage reads one page of req. Requests with filters or sorts go to the
// search endpoint; all others use the list endpoint.
func (c *Client) FetchPage(ctx context.Context, req core.PagedRequest) (core.PageResult, error) {
	resource := core.ResourceType(strings.TrimSpace(string(req.Resource)))
	if resource == "" {
		return core.PageResult{}, core.PageFailedError(resource, 0, req.Cursor, "resource is required", nil)
	}
	key := ratelimit.Key{Provider: ProviderID, Identity: c.identity, Bucket: rateLimitBucket}
	if c.policy != nil {
		if err := c.policy.BeforeCall(ctx, key); err != nil {
			return core.PageResult{}, core.PageFailedError(resource, 0, req.Cursor, "rate limited", err)
		}
	}

	token, err := c.tokens.EnsureValidToken(ctx, c.identity)
	if err != nil {
		return core.PageResult{}, core.PageFailedError(resource, 0, req.Cursor, "access token unavailable", err)
	}

	adapter, transportReq, err := c.buildRequest(resource, req)
	if err != nil {
		return core.PageResult{}, core.PageFailedError(resource, 0, req.Cursor, "build request", err)
	}
	transportReq.Headers["Authorization"] = "Bearer " + token

	response, err := adapter.Do(ctx, transportReq)
	if err != nil {
		return core.PageResult{}, core.PageFailedError(resource, 0, req.Cursor, "request failed", err)
	}

	var throttle error
	if c.policy != nil {
		meta := NormalizeResponse(response)
		if err := c.policy.AfterCall(ctx, key, meta); err != nil {
			c.logger.Warn("hubspot rate limit state not recorded", "identity", c.identity.String(), "error", err)
		}
		if response.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if meta.RetryAfter != nil {
				retryAfter = *meta.RetryAfter
			}
			throttle = ratelimit.ThrottledError{Provider: ProviderID, Identity: c.identity, Bucket: rateLimitBucket, RetryAfter: retryAfter}
		}
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		fetchErr := core.PageFailedError(resource, 0, req.Cursor, upstreamMessage(response.Body), throttle)
		fetchErr.StatusCode = response.StatusCode
		fetchErr.Payload = append([]byte(nil), response.Body...)
		return core.PageResult{}, fetchErr
	}

	result, err := parsePage(resource, req.Cursor, response.Body)
	if err != nil {
		return core.PageResult{}, err
	}
	c.logger.Debug("hubspot page fetched",
		"identity", c.identity.String(),
		"resource", string(resource),
		"items", len(result.Items),
		"has_next", !result.Next.IsZero(),
	)
	return result, nil
}

func (c *Client) buildRequest(resource core.ResourceType, req core.PagedRequest) (core.TransportAdapter, core.TransportRequest, error) {
	base := c.baseURL + "/crm/v3/objects/" + url.PathEscape(string(resource))
	if req.IsSearch() {
		body, err := json.Marshal(newSearchBody(req))
		if err != nil {
			return nil, core.TransportRequest{}, err
		}
		return c.search, core.TransportRequest{
			Method:               http.MethodPost,
			URL:                  base + "/search",
			Headers:              map[string]string{},
			Body:                 body,
			Timeout:              c.timeout,
			MaxResponseBodyBytes: maxPageBodyBytes,
		}, nil
	}

	query := map[string]string{}
	if req.PageSize > 0 {
		query["limit"] = strconv.Itoa(req.PageSize)
	}
	if !req.Cursor.IsZero() {
		query["after"] = req.Cursor.String()
	}
	values := map[string][]string{}
	if len(req.Properties) > 0 {
		values["properties"] = append([]string(nil), req.Properties...)
	}
	if len(req.Associations) > 0 {
		values["associations"] = append([]string(nil), req.Associations...)
	}
	return c.rest, core.TransportRequest{
		Method:               http.MethodGet,
		URL:                  base,
		Headers:              map[string]string{"Accept": "application/json"},
		Query:                query,
		QueryValues:          values,
		Timeout:              c.timeout,
		MaxResponseBodyBytes: maxPageBodyBytes,
	}, nil
}

type searchFilter struct {
	PropertyName string   `json:"propertyName"`
	Operator     string   `json:"operator"`
	Value        string   `json:"value,omitempty"`
	HighValue    string   `json:"highValue,omitempty"`
	Values       []string `json:"values,omitempty"`
}

type searchFilterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type searchBody struct {
	FilterGroups []searchFilterGroup `json:"filterGroups"`
	Sorts        []searchSort        `json:"sorts,omitempty"`
	Properties   []string            `json:"properties"`
	Limit        int                 `json:"limit,omitempty"`
	After        string              `json:"after,omitempty"`
}

// newSearchBody maps a request onto the search payload. The search endpoint
// has no associations parameter, so they are dropped.
func newSearchBody(req core.PagedRequest) searchBody {
	body := searchBody{
		FilterGroups: make([]searchFilterGroup, 0, len(req.FilterGroups)),
		Properties:   append([]string{}, req.Properties...),
		Limit:        req.PageSize,
		After:        req.Cursor.String(),
	}
	for _, group := range req.FilterGroups {
		filters := make([]searchFilter, 0, len(group.Filters))
		for _, filter := range group.Filters {
			filters = append(filters, searchFilter{
				PropertyName: filter.Property,
				Operator:     string(filter.Operator),
				Value:        filter.Value,
				HighValue:    filter.HighValue,
				Values:       append([]string(nil), filter.Values...),
			})
		}
		body.FilterGroups = append(body.FilterGroups, searchFilterGroup{Filters: filters})
	}
	for _, sort := range req.Sorts {
		direction := sort.Direction
		if direction == "" {
			direction = core.SortAscending
		}
		body.Sorts = append(body.Sorts, searchSort{PropertyName: sort.Property, Direction: string(direction)})
	}
	return body
}

// parsePage decodes {"results": [...], "paging": {"next": {"after": "..."}}}.
// A next marker without a usable after value is a malformed cursor.
func parsePage(resource core.ResourceType, cursor core.Cursor, body []byte) (core.PageResult, error) {
	var envelope struct {
		Results *[]core.Record `json:"results"`
		Paging  *struct {
			Next *struct {
				After any `json:"after"`
			} `json:"next"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		fetchErr := core.PageFailedError(resource, 0, cursor, "decode page", err)
		fetchErr.Payload = append([]byte(nil), body...)
		return core.PageResult{}, fetchErr
	}
	if envelope.Results == nil {
		fetchErr := core.PageFailedError(resource, 0, cursor, "page has no results array", nil)
		fetchErr.Payload = append([]byte(nil), body...)
		return core.PageResult{}, fetchErr
	}

	result := core.PageResult{Items: *envelope.Results}
	if result.Items == nil {
		result.Items = []core.Record{}
	}
	if envelope.Paging == nil || envelope.Paging.Next == nil {
		return result, nil
	}
	after, ok := envelope.Paging.Next.After.(string)
	if !ok || strings.TrimSpace(after) == "" {
		return core.PageResult{}, core.MalformedCursorError(resource, 0, cursor, "paging.next.after is missing or not a string")
	}
	result.Next = core.Cursor(after)
	return result, nil
}

func upstreamMessage(body []byte) string {
	var payload struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "upstream request failed"
	}
	parts := make([]string, 0, 2)
	if payload.Category != "" {
		parts = append(parts, payload.Category)
	}
	if payload.Message != "" {
		parts = append(parts, payload.Message)
	}
	if len(parts) == 0 {
		return "upstream request failed"
	}
	return strings.Join(parts, ": ")
}

var _ core.PageFetchFunc = (*Client)(nil).FetchPage
