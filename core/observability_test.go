package core

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := copyAnyMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: copyAnyMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := copyAnyMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func newObservedService(t *testing.T, metrics MetricsRecorder, logger Logger, opts ...Option) *Service {
	t.Helper()
	all := append([]Option{
		WithExchanger(&stubExchanger{}),
		WithAuthorizer(stubAuthorizer{}),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	}, opts...)
	svc, err := NewService(DefaultConfig(), all...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestServiceObservability_CompleteAuthorizationSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger)

	_, err := svc.CompleteAuthorization(context.Background(), CompleteAuthorizationRequest{
		Identity: "session_1",
		Code:     "code_1",
	})
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}

	if !hasCounter(metrics.counters, "crm.complete_authorization.total", "success") {
		t.Fatalf("expected crm.complete_authorization.total success counter")
	}
	if !hasHistogram(metrics.histograms, "crm.complete_authorization.duration_ms", "success") {
		t.Fatalf("expected crm.complete_authorization.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "complete_authorization succeeded", "complete_authorization") {
		t.Fatalf("expected complete_authorization succeeded structured log")
	}
	for _, record := range logger.snapshot() {
		for key, value := range record.fields {
			if text, ok := value.(string); ok && (text == "access_code_1" || text == "refresh_code_1") {
				t.Fatalf("token leaked into log field %q", key)
			}
		}
	}
}

func TestServiceObservability_IsAuthorized(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger)

	authorized, err := svc.IsAuthorized(context.Background(), "session_1")
	if err != nil || authorized {
		t.Fatalf("expected unauthorized identity, got %v err=%v", authorized, err)
	}
	if !hasCounter(metrics.counters, "crm.is_authorized.total", "success") {
		t.Fatalf("expected crm.is_authorized.total success counter, got %#v", metrics.counters)
	}
	if !hasHistogram(metrics.histograms, "crm.is_authorized.duration_ms", "success") {
		t.Fatalf("expected crm.is_authorized.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "is_authorized succeeded", "is_authorized") {
		t.Fatalf("expected is_authorized succeeded structured log")
	}

	if _, err := svc.IsAuthorized(context.Background(), " "); err == nil {
		t.Fatalf("expected blank identity to fail")
	}
	if !hasCounter(metrics.counters, "crm.is_authorized.total", "failure") {
		t.Fatalf("expected crm.is_authorized.total failure counter")
	}
}

func TestServiceObservability_FetchAllFailureTaggedWithTextCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger)

	fetch := func(context.Context, PagedRequest) (PageResult, error) {
		return PageResult{}, PageFailedError("", 0, "", "upstream 500", nil)
	}
	if _, err := svc.FetchAll(context.Background(), fetch, PagedRequest{Resource: "tickets"}); err == nil {
		t.Fatalf("expected fetch failure")
	}
	found := false
	for _, counter := range metrics.counters {
		if counter.name == "crm.fetch_all.total" &&
			counter.tags["status"] == "failure" &&
			counter.tags["resource"] == "tickets" &&
			counter.tags["error_text_code"] == ErrorPageFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tagged fetch_all failure counter, got %#v", metrics.counters)
	}
	if !hasLog(logger.snapshot(), "error", "fetch_all failed", "fetch_all") {
		t.Fatalf("expected fetch_all failure log")
	}
}

func TestServiceObservability_RedactsSensitiveErrorMetadata(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger)

	richErr := goerrors.New("token endpoint rejected", goerrors.CategoryExternal).
		WithCode(502).
		WithTextCode(ErrorExchangeFailed).
		WithMetadata(map[string]any{
			"request_id":       "req_123",
			"refresh_token":    "secret_refresh_token",
			"upstream_payload": `{"refresh_token":"leak"}`,
		})
	svc.observeOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"ensure_valid_token",
		richErr,
		map[string]any{"identity": "session_1"},
	)

	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected logs to be emitted")
	}
	last := records[len(records)-1]
	if last.fields["error_category"] != "external" {
		t.Fatalf("expected error_category external, got %#v", last.fields["error_category"])
	}
	if last.fields["error_text_code"] != ErrorExchangeFailed {
		t.Fatalf("expected error_text_code %q, got %#v", ErrorExchangeFailed, last.fields["error_text_code"])
	}
	metadata, ok := last.fields["error_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected redacted error_metadata map, got %#v", last.fields["error_metadata"])
	}
	if metadata["refresh_token"] != RedactedValue || metadata["upstream_payload"] != RedactedValue {
		t.Fatalf("expected secrets to be redacted, got %#v", metadata)
	}
	if metadata["request_id"] != "req_123" {
		t.Fatalf("expected request_id to survive redaction")
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level == level && item.msg == message && item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
