// Package command exposes the mutating CRM operations as go-command
// commanders. Results are handed back through gocmd result collectors.
package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crm/core"
)

type MutatingService interface {
	CompleteAuthorization(ctx context.Context, req core.CompleteAuthorizationRequest) (core.CompleteAuthorizationResult, error)
	EnsureValidToken(ctx context.Context, identity core.Identity) (string, error)
	Disconnect(ctx context.Context, identity core.Identity) error
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.UnwiredHandlerError(TypeCompleteAuthorization, "mutating service")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// RefreshTokenResult never carries the token itself.
type RefreshTokenResult struct {
	Identity core.Identity
	Valid    bool
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return core.UnwiredHandlerError(TypeRefreshToken, "mutating service")
	}
	token, err := c.service.EnsureValidToken(ctx, msg.Identity)
	if err != nil {
		return err
	}
	storeResult(ctx, RefreshTokenResult{Identity: msg.Identity, Valid: token != ""})
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return core.UnwiredHandlerError(TypeDisconnect, "mutating service")
	}
	return c.service.Disconnect(ctx, msg.Identity)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
