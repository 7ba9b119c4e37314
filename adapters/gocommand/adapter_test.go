package gocommand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	crm "github.com/goliatone/go-crm"
	crmcommand "github.com/goliatone/go-crm/command"
	"github.com/goliatone/go-crm/core"
	crmquery "github.com/goliatone/go-crm/query"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type blankTypeMessage struct{}

func (blankTypeMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "crm.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "crm.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(crmcommand.RefreshTokenMessage{Identity: "portal_1"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(crmcommand.RefreshTokenMessage{}); err == nil {
		t.Fatalf("expected Validate() failure for blank identity")
	}
	if err := ValidateMessageContract(blankTypeMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegisterFacade_DispatchesThroughService(t *testing.T) {
	svc, err := crm.NewService(crm.DefaultConfig(), crm.WithExchanger(&stubExchanger{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := crm.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 6 {
		t.Fatalf("expected six subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	if err := Dispatch(ctx, crmcommand.CompleteAuthorizationMessage{
		Request: core.CompleteAuthorizationRequest{Identity: "portal_1", Code: "code_1"},
	}); err != nil {
		t.Fatalf("dispatch complete authorization: %v", err)
	}
	authorized, err := Query[crmquery.IsAuthorizedMessage, bool](ctx, crmquery.IsAuthorizedMessage{Identity: "portal_1"})
	if err != nil || !authorized {
		t.Fatalf("expected portal_1 authorized, got %v %v", authorized, err)
	}

	if err := Dispatch(ctx, crmcommand.DisconnectMessage{Identity: "portal_1"}); err != nil {
		t.Fatalf("dispatch disconnect: %v", err)
	}
	authorized, err = Query[crmquery.IsAuthorizedMessage, bool](ctx, crmquery.IsAuthorizedMessage{Identity: "portal_1"})
	if err != nil || authorized {
		t.Fatalf("expected portal_1 disconnected, got %v %v", authorized, err)
	}
}

func TestRegisterFacade_RequiresFacade(t *testing.T) {
	if _, err := RegisterFacade(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil facade to be rejected")
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !adapter.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	sub, err := RegisterAndSubscribe(adapter, command.CommandFunc[queueMessage](func(context.Context, queueMessage) error {
		return nil
	}))
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("crm.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

type stubExchanger struct{}

func (stubExchanger) ExchangeAuthorizationCode(context.Context, string) (core.TokenPair, error) {
	return core.TokenPair{AccessToken: "at_1", RefreshToken: "rt_1", ExpiresIn: 30 * time.Minute}, nil
}

func (stubExchanger) ExchangeRefreshToken(_ context.Context, refreshToken string) (core.TokenPair, error) {
	return core.TokenPair{AccessToken: "at_2", RefreshToken: refreshToken, ExpiresIn: 30 * time.Minute}, nil
}
