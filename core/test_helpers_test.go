package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type stubExchanger struct {
	codeCalls    atomic.Int32
	refreshCalls atomic.Int32
	codeFn       func(ctx context.Context, code string) (TokenPair, error)
	refreshFn    func(ctx context.Context, refreshToken string) (TokenPair, error)
}

func (e *stubExchanger) ExchangeAuthorizationCode(ctx context.Context, code string) (TokenPair, error) {
	e.codeCalls.Add(1)
	if e.codeFn != nil {
		return e.codeFn(ctx, code)
	}
	return TokenPair{AccessToken: "access_" + code, RefreshToken: "refresh_" + code, ExpiresIn: time.Hour}, nil
}

func (e *stubExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	e.refreshCalls.Add(1)
	if e.refreshFn != nil {
		return e.refreshFn(ctx, refreshToken)
	}
	return TokenPair{AccessToken: "access_from_" + refreshToken, ExpiresIn: time.Hour}, nil
}

type stubAuthorizer struct{}

func (stubAuthorizer) AuthorizationURL(state string, scopes []string) string {
	return "https://auth.example/authorize?state=" + state
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}

func records(ids ...string) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, Record{"id": id})
	}
	return out
}

func recordIDs(items []Record) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		id, _ := item["id"].(string)
		out = append(out, id)
	}
	return out
}
