package hubspot

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	"github.com/goliatone/go-crm/ratelimit"
)

const defaultRetryAfter429 = 10 * time.Second

// NormalizeResponse extracts the rate limit view of a CRM API response.
// A 429 without Retry-After waits one HubSpot burst interval.
func NormalizeResponse(response core.TransportResponse) ratelimit.ResponseMeta {
	meta := ratelimit.ResponseMeta{
		StatusCode: response.StatusCode,
		Headers:    copyStringMap(response.Headers),
		Metadata:   map[string]any{},
	}
	if correlationID := headerValue(meta.Headers, "x-hubspot-correlation-id"); correlationID != "" {
		meta.Metadata["hubspot_correlation_id"] = correlationID
	}
	if daily := headerValue(meta.Headers, "x-hubspot-ratelimit-daily-remaining"); daily != "" {
		if parsed, err := strconv.Atoi(daily); err == nil {
			meta.Metadata["hubspot_daily_remaining"] = parsed
		}
	}
	if raw := headerValue(meta.Headers, "retry-after"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			retryAfter := time.Duration(seconds) * time.Second
			meta.RetryAfter = &retryAfter
		}
	}
	if meta.StatusCode == 429 && meta.RetryAfter == nil {
		retryAfter := defaultRetryAfter429
		if intervalMS, err := strconv.Atoi(headerValue(meta.Headers, "x-hubspot-ratelimit-interval-milliseconds")); err == nil && intervalMS > 0 {
			retryAfter = time.Duration(intervalMS) * time.Millisecond
		}
		meta.RetryAfter = &retryAfter
	}
	return meta
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
