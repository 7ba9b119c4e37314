package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	KindREST = "rest"
	KindJSON = "json"
	KindForm = "form"
)

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPAdapter executes core.TransportRequest over HTTP. The rest, json and
// form kinds differ only in their default method and headers; request
// headers always win.
type HTTPAdapter struct {
	Client               HTTPDoer
	DefaultMethod        string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64

	kind string
}

// NewRESTAdapter issues GET by default, as used for record listing.
func NewRESTAdapter(client HTTPDoer) *HTTPAdapter {
	return newHTTPAdapter(KindREST, client, http.MethodGet, nil)
}

// NewJSONAdapter posts JSON bodies, as used by search endpoints.
func NewJSONAdapter(client HTTPDoer) *HTTPAdapter {
	return newHTTPAdapter(KindJSON, client, http.MethodPost, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
}

// NewFormAdapter posts url encoded bodies, as used by OAuth token endpoints.
func NewFormAdapter(client HTTPDoer) *HTTPAdapter {
	return newHTTPAdapter(KindForm, client, http.MethodPost, map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	})
}

func newHTTPAdapter(kind string, client HTTPDoer, method string, headers map[string]string) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPAdapter{
		Client:               client,
		DefaultMethod:        method,
		DefaultHeaders:       trimHeaders(headers),
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		kind:                 kind,
	}
}

func (a *HTTPAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *HTTPAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: http adapter requires a client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": a.Kind()},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	target := httpReq.URL.String()

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"adapter": a.kind, "method": httpReq.Method, "url": target},
		)
	}
	defer httpRes.Body.Close()

	body, err := readLimited(httpRes, bodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes))
	if err != nil {
		return core.TransportResponse{}, err
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"kind":        a.kind,
		},
	}, nil
}

func (a *HTTPAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": a.kind},
		)
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"adapter": a.kind, "url": rawURL},
		)
	}
	target.RawQuery = mergeQuery(target.Query(), req.Query, req.QueryValues).Encode()

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = a.DefaultMethod
	}
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"adapter": a.kind, "method": method, "url": target.String()},
		)
	}
	headers := trimHeaders(a.DefaultHeaders)
	maps.Copy(headers, trimHeaders(req.Headers))
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func readLimited(res *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": res.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		return nil, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": res.StatusCode, "response_limit_b": limit},
		)
	}
	return body, nil
}

// mergeQuery applies single values with Set and repeated values with Add, so
// list parameters such as properties=a&properties=b survive encoding.
func mergeQuery(query url.Values, single map[string]string, repeated map[string][]string) url.Values {
	for key, value := range single {
		if key = strings.TrimSpace(key); key != "" {
			query.Set(key, strings.TrimSpace(value))
		}
	}
	for key, values := range repeated {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		query.Del(key)
		for _, value := range values {
			if value = strings.TrimSpace(value); value != "" {
				query.Add(key, value)
			}
		}
	}
	return query
}

func trimHeaders(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for key, value := range input {
		if key = strings.TrimSpace(key); key != "" {
			out[key] = strings.TrimSpace(value)
		}
	}
	return out
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func bodyLimit(requestLimit int64, adapterLimit int64) int64 {
	switch {
	case requestLimit > 0:
		return requestLimit
	case adapterLimit > 0:
		return adapterLimit
	default:
		return defaultResponseBodyLimit
	}
}

var _ core.TransportAdapter = (*HTTPAdapter)(nil)
