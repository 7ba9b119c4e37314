// Package gojob schedules access token warm-up through go-job queues.
package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
	glog "github.com/goliatone/go-logger/glog"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDTokenWarmup = "crm.token.warmup"

	ParamIdentity = "identity"

	defaultWarmupWindow = 15 * time.Minute
	defaultRetryDelay   = 30 * time.Second
)

// RetryPolicy bounds redelivery of failed warm-ups.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps opts for the given delivery attempt. A missing
// disposition means retry. Once MaxAttempts is reached a retry becomes
// dead_letter when DeadLetterOnMax is set and failed otherwise. Terminal
// dispositions carry no delay.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry || out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	return out
}

type WarmupOption func(*TokenWarmupJob)

// WithWarmupWindow sets the idempotency window. Two enqueues for the same
// identity inside one window share a key and collapse in the queue.
func WithWarmupWindow(window time.Duration) WarmupOption {
	return func(j *TokenWarmupJob) {
		if window > 0 {
			j.window = window
		}
	}
}

func WithWarmupClock(now func() time.Time) WarmupOption {
	return func(j *TokenWarmupJob) {
		if now != nil {
			j.now = now
		}
	}
}

func WithWarmupLogger(logger glog.Logger) WarmupOption {
	return func(j *TokenWarmupJob) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// TokenWarmupJob enqueues one warm-up message per identity.
type TokenWarmupJob struct {
	enqueuer queue.Enqueuer
	window   time.Duration
	now      func() time.Time
	logger   glog.Logger
}

func NewTokenWarmupJob(enqueuer queue.Enqueuer, opts ...WarmupOption) *TokenWarmupJob {
	j := &TokenWarmupJob{
		enqueuer: enqueuer,
		window:   defaultWarmupWindow,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j
}

func (j *TokenWarmupJob) Message(identity core.Identity) (*job.ExecutionMessage, error) {
	if identity.IsZero() {
		return nil, fmt.Errorf("gojob: identity is required")
	}
	windowStart := j.now().Truncate(j.window)
	return &job.ExecutionMessage{
		JobID:          JobIDTokenWarmup,
		ScriptPath:     JobIDTokenWarmup,
		Parameters:     map[string]any{ParamIdentity: identity.String()},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobIDTokenWarmup, identity, windowStart.Unix()),
		DedupPolicy:    job.DedupPolicyDrop,
	}, nil
}

// Enqueue schedules a warm-up for every identity. It stops at the first
// failure and returns the receipts accepted before it.
func (j *TokenWarmupJob) Enqueue(ctx context.Context, identities ...core.Identity) ([]queue.EnqueueReceipt, error) {
	if j == nil || j.enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is not configured")
	}
	receipts := make([]queue.EnqueueReceipt, 0, len(identities))
	for _, identity := range identities {
		msg, err := j.Message(identity)
		if err != nil {
			return receipts, err
		}
		receipt, err := j.enqueuer.Enqueue(ctx, msg)
		if err != nil {
			return receipts, fmt.Errorf("gojob: enqueue warm-up for %q: %w", identity, err)
		}
		j.logger.Debug("token warm-up enqueued", "identity", identity.String(), "dispatch_id", receipt.DispatchID)
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

type HandlerOption func(*TokenWarmupHandler)

func WithRetryPolicy(policy RetryPolicy) HandlerOption {
	return func(h *TokenWarmupHandler) {
		h.policy = policy
	}
}

func WithRetryDelay(delay time.Duration) HandlerOption {
	return func(h *TokenWarmupHandler) {
		if delay > 0 {
			h.retryDelay = delay
		}
	}
}

func WithHandlerLogger(logger glog.Logger) HandlerOption {
	return func(h *TokenWarmupHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// TokenWarmupHandler runs on the worker side. Identities that are no longer
// authorized go to the dead letter queue, every other failure is requeued.
type TokenWarmupHandler struct {
	tokens     core.AccessTokenProvider
	policy     RetryPolicy
	retryDelay time.Duration
	logger     glog.Logger
}

func NewTokenWarmupHandler(tokens core.AccessTokenProvider, opts ...HandlerOption) *TokenWarmupHandler {
	h := &TokenWarmupHandler{
		tokens:     tokens,
		retryDelay: defaultRetryDelay,
		logger:     glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *TokenWarmupHandler) Handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if h == nil || h.tokens == nil {
		return fmt.Errorf("gojob: token provider is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	identity, err := identityFromMessage(delivery.Message())
	if err != nil {
		return h.nack(ctx, delivery, attempt, queue.NackOptions{
			Disposition: queue.NackDispositionDeadLetter,
			Reason:      err.Error(),
		})
	}

	if _, err := h.tokens.EnsureValidToken(ctx, identity); err != nil {
		if errors.Is(err, core.ErrNotAuthorized) {
			h.logger.Warn("token warm-up dropped", "identity", identity.String(), "reason", "not_authorized")
			return h.nack(ctx, delivery, attempt, queue.NackOptions{
				Disposition: queue.NackDispositionDeadLetter,
				Reason:      core.ErrorNotAuthorized,
			})
		}
		h.logger.Warn("token warm-up failed", "identity", identity.String(), "attempt", attempt, "error", err)
		return h.nack(ctx, delivery, attempt, queue.NackOptions{
			Disposition: queue.NackDispositionRetry,
			Delay:       h.retryDelay,
			Reason:      err.Error(),
		})
	}
	return delivery.Ack(ctx)
}

func (h *TokenWarmupHandler) nack(ctx context.Context, delivery queue.Delivery, attempt int, opts queue.NackOptions) error {
	opts = h.policy.NormalizeAttempt(opts, attempt)
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("gojob: invalid nack options: %w", err)
	}
	return delivery.Nack(ctx, opts)
}

func identityFromMessage(msg *job.ExecutionMessage) (core.Identity, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDTokenWarmup {
		return "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	raw, _ := msg.Parameters[ParamIdentity].(string)
	identity := core.Identity(raw)
	if identity.IsZero() {
		return "", fmt.Errorf("gojob: identity parameter is required")
	}
	return identity, nil
}

// LoggingHook reports worker lifecycle events for warm-up jobs.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	if logger == nil {
		logger = glog.Nop()
	}
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("token warm-up started", eventFields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Info("token warm-up succeeded", eventFields(event)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("token warm-up failed", eventFields(event)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("token warm-up retry scheduled", eventFields(event)...)
}

func eventFields(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if message != nil {
		fields = append(fields, "job_id", message.JobID)
		if identity, ok := message.Parameters[ParamIdentity].(string); ok {
			fields = append(fields, "identity", identity)
		}
	}
	if event.Delay > 0 {
		fields = append(fields, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var _ worker.Hook = (*LoggingHook)(nil)
