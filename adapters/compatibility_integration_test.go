package adapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	crm "github.com/goliatone/go-crm"
	"github.com/goliatone/go-crm/adapters/gocommand"
	"github.com/goliatone/go-crm/adapters/gojob"
	"github.com/goliatone/go-crm/adapters/gologger"
	crmcommand "github.com/goliatone/go-crm/command"
	"github.com/goliatone/go-crm/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

func TestRuntimeCompatibility_WarmupThroughQueueAndService(t *testing.T) {
	ctx := context.Background()
	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	jobProvider, jobLogger := gologger.ForJobs(provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	exchanger := &compatExchanger{}
	svc, err := crm.NewService(crm.DefaultConfig(),
		crm.WithExchanger(exchanger),
		crm.WithLoggerProvider(provider),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.CompleteAuthorization(ctx, crm.CompleteAuthorizationRequest{Identity: "portal_1", Code: "code_1"}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	// Drop the cached access token so the warm-up has to refresh.
	if err := svc.Dependencies().TokenCache.Delete(ctx, "portal_1"); err != nil {
		t.Fatalf("evict access token: %v", err)
	}

	enqueuer := &compatQueue{}
	warmup := gojob.NewTokenWarmupJob(enqueuer, gojob.WithWarmupLogger(gologger.Component(provider, nil, "jobs")))
	if _, err := warmup.Enqueue(ctx, "portal_1", "portal_2"); err != nil {
		t.Fatalf("enqueue warm-up: %v", err)
	}

	handler := gojob.NewTokenWarmupHandler(svc, gojob.WithRetryPolicy(gojob.RetryPolicy{MaxAttempts: 5, DeadLetterOnMax: true}))
	deliveries := enqueuer.deliveries()
	for _, delivery := range deliveries {
		if err := handler.Handle(ctx, delivery, 1); err != nil {
			t.Fatalf("handle warm-up: %v", err)
		}
	}
	if !deliveries[0].acked {
		t.Fatalf("expected authorized identity to be acked")
	}
	if deliveries[1].nack.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected unknown identity to be dead lettered, got %#v", deliveries[1].nack)
	}
	if exchanger.refreshes != 1 {
		t.Fatalf("expected one refresh grant, got %d", exchanger.refreshes)
	}
	token, ok, err := svc.Dependencies().TokenCache.Get(ctx, "portal_1")
	if err != nil || !ok || token != "at_refreshed" {
		t.Fatalf("expected warmed access token in cache, got %q ok=%v err=%v", token, ok, err)
	}
}

func TestRuntimeCompatibility_FacadeMirroredIntoQueueRegistry(t *testing.T) {
	svc, err := crm.NewService(crm.DefaultConfig(), crm.WithExchanger(&compatExchanger{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := crm.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subs, err := gocommand.RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	for _, messageType := range []string{crmcommand.TypeRefreshToken, crmcommand.TypeDisconnect} {
		if _, ok := queueRegistry.Get(messageType); !ok {
			t.Fatalf("expected %q to be mirrored into the queue registry", messageType)
		}
	}
}

type compatExchanger struct {
	refreshes int
}

func (e *compatExchanger) ExchangeAuthorizationCode(context.Context, string) (core.TokenPair, error) {
	return core.TokenPair{AccessToken: "at_1", RefreshToken: "rt_1", ExpiresIn: 30 * time.Minute}, nil
}

func (e *compatExchanger) ExchangeRefreshToken(_ context.Context, refreshToken string) (core.TokenPair, error) {
	e.refreshes++
	return core.TokenPair{AccessToken: "at_refreshed", RefreshToken: refreshToken, ExpiresIn: 30 * time.Minute}, nil
}

type compatQueue struct {
	messages []*job.ExecutionMessage
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	q.messages = append(q.messages, msg)
	return queue.EnqueueReceipt{DispatchID: msg.IdempotencyKey, EnqueuedAt: time.Now().UTC()}, nil
}

func (q *compatQueue) deliveries() []*compatDelivery {
	out := make([]*compatDelivery, 0, len(q.messages))
	for _, msg := range q.messages {
		out = append(out, &compatDelivery{msg: msg})
	}
	return out
}

type compatDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
	nack  queue.NackOptions
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *compatDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nack = opts
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                      {}
func (compatLogger) Debug(string, ...any)                      {}
func (compatLogger) Info(string, ...any)                       {}
func (compatLogger) Warn(string, ...any)                       {}
func (compatLogger) Error(string, ...any)                      {}
func (compatLogger) Fatal(string, ...any)                      {}
func (l compatLogger) WithContext(context.Context) glog.Logger { return l }

var (
	_ queue.Enqueuer = (*compatQueue)(nil)
	_ queue.Delivery = (*compatDelivery)(nil)
)
