package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	goerrors "github.com/goliatone/go-errors"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one rate limit bucket. HubSpot applies its burst limit per
// installed app and account, which maps to one identity.
type Key struct {
	Provider string
	Identity core.Identity
	Bucket   string
}

// ResponseMeta is the part of an upstream response the policy reads.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	Interval       time.Duration
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// HeaderNames lists the response headers carrying limit state. The first
// match wins, so provider specific names go before the generic ones.
type HeaderNames struct {
	Limit     []string
	Remaining []string
	Interval  []string
	Reset     []string
}

func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Limit:     []string{"x-hubspot-ratelimit-max", "x-ratelimit-limit"},
		Remaining: []string{"x-hubspot-ratelimit-remaining", "x-ratelimit-remaining"},
		Interval:  []string{"x-hubspot-ratelimit-interval-milliseconds"},
		Reset:     []string{"x-ratelimit-reset"},
	}
}

type ThrottledError struct {
	Provider   string
	Identity   core.Identity
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: provider %q bucket %q throttled for %s",
		strings.TrimSpace(e.Provider),
		strings.TrimSpace(e.Bucket),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider": strings.TrimSpace(e.Provider),
		"bucket":   strings.TrimSpace(e.Bucket),
	}
	if !e.Identity.IsZero() {
		metadata["identity"] = e.Identity.String()
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy records limit headers after each call and refuses calls
// while a bucket is known to be exhausted. It never retries.
type AdaptivePolicy struct {
	Store          StateStore
	Headers        HeaderNames
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Headers:        DefaultHeaderNames(),
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall fails with ThrottledError while the bucket's last observed
// window says no calls are left.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	state, found, err := p.load(ctx, NormalizeKey(key))
	if err != nil || !found {
		return err
	}
	now := p.now()
	if wait := state.blockedFor(now); wait > 0 {
		return ThrottledError{
			Provider:   state.Key.Provider,
			Identity:   state.Key.Identity,
			Bucket:     state.Key.Bucket,
			RetryAfter: wait,
		}
	}
	return nil
}

// AfterCall folds the response's limit headers into the bucket state.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	key = NormalizeKey(key)
	state, found, err := p.load(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		state = State{Key: key}
	}

	now := p.now()
	snap := readLimitSnapshot(res, p.headerNames(), now)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range res.Metadata {
		state.Metadata[k] = v
	}
	snap.apply(&state, now)

	if !snap.throttles(res.StatusCode, state.Remaining) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}
	state.Attempts++
	delay := snap.retryAfter
	if !snap.hasRetryAfter {
		delay = p.backoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) load(ctx context.Context, key Key) (State, bool, error) {
	if p == nil || p.Store == nil {
		return State{}, false, nil
	}
	state, err := p.Store.Get(ctx, key)
	if errors.Is(err, ErrStateNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (s State) blockedFor(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

func (p *AdaptivePolicy) headerNames() HeaderNames {
	defaults := DefaultHeaderNames()
	if p == nil {
		return defaults
	}
	names := p.Headers
	names.Limit = orDefault(names.Limit, defaults.Limit)
	names.Remaining = orDefault(names.Remaining, defaults.Remaining)
	names.Interval = orDefault(names.Interval, defaults.Interval)
	names.Reset = orDefault(names.Reset, defaults.Reset)
	return names
}

func orDefault(names []string, fallback []string) []string {
	if len(names) == 0 {
		return fallback
	}
	return names
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles from InitialBackoff per consecutive throttle, capped at
// MaxBackoff.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	delay, ceiling := p.InitialBackoff, p.MaxBackoff
	if delay <= 0 {
		delay = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

type limitSnapshot struct {
	limit, remaining       int
	hasLimit, hasRemaining bool
	interval               time.Duration
	resetAt                time.Time
	hasResetAt             bool
	retryAfter             time.Duration
	hasRetryAfter          bool
}

func readLimitSnapshot(res ResponseMeta, names HeaderNames, now time.Time) limitSnapshot {
	var snap limitSnapshot
	snap.limit, snap.hasLimit = firstInt(res.Headers, names.Limit)
	snap.remaining, snap.hasRemaining = firstInt(res.Headers, names.Remaining)
	if ms, ok := firstInt(res.Headers, names.Interval); ok && ms > 0 {
		snap.interval = time.Duration(ms) * time.Millisecond
	}
	if unix, ok := firstInt(res.Headers, names.Reset); ok && unix > 0 {
		snap.resetAt, snap.hasResetAt = time.Unix(int64(unix), 0).UTC(), true
	}
	snap.retryAfter, snap.hasRetryAfter = retryAfter(res, now)
	return snap
}

// apply copies observed values onto state. Without an explicit reset header
// the window ends one interval from now.
func (snap limitSnapshot) apply(state *State, now time.Time) {
	if snap.hasLimit {
		state.Limit = snap.limit
	}
	if snap.hasRemaining {
		state.Remaining = snap.remaining
	}
	if snap.interval > 0 {
		state.Interval = snap.interval
	}
	switch {
	case snap.hasResetAt:
		resetAt := snap.resetAt
		state.ResetAt = &resetAt
	case snap.hasRemaining && state.Interval > 0:
		resetAt := now.Add(state.Interval)
		state.ResetAt = &resetAt
	}
	state.RetryAfter = nil
	if snap.hasRetryAfter {
		wait := snap.retryAfter
		state.RetryAfter = &wait
	}
}

func (snap limitSnapshot) throttles(status int, remaining int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return false
	}
	observed := snap.hasRemaining || snap.hasResetAt || snap.hasLimit || snap.hasRetryAfter
	return observed && remaining == 0
}

func retryAfter(res ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func firstInt(headers map[string]string, names []string) (int, bool) {
	for _, name := range names {
		if parsed, err := strconv.Atoi(headerValue(headers, name)); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func headerValue(headers map[string]string, key string) string {
	key = strings.TrimSpace(key)
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// NormalizeKey lower-cases provider and bucket and trims every field.
func NormalizeKey(key Key) Key {
	return Key{
		Provider: strings.TrimSpace(strings.ToLower(key.Provider)),
		Identity: core.Identity(strings.TrimSpace(key.Identity.String())),
		Bucket:   strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

func cloneMap(input map[string]any) map[string]any {
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
