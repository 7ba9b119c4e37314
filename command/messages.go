package command

import (
	"strings"

	"github.com/goliatone/go-crm/core"
)

const (
	TypeCompleteAuthorization = "crm.command.authorization.complete"
	TypeRefreshToken          = "crm.command.token.refresh"
	TypeDisconnect            = "crm.command.disconnect"
)

type CompleteAuthorizationMessage struct {
	Request core.CompleteAuthorizationRequest
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.Code) == "" {
		return core.InvalidMessageError(TypeCompleteAuthorization, "code", "authorization code is required")
	}
	if m.Request.Identity.IsZero() && strings.TrimSpace(m.Request.State) == "" {
		return core.InvalidMessageError(TypeCompleteAuthorization, "identity", "identity or state is required")
	}
	return nil
}

// RefreshTokenMessage asks for a valid access token, refreshing it when the
// cached one is missing or expired.
type RefreshTokenMessage struct {
	Identity core.Identity
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	if m.Identity.IsZero() {
		return core.InvalidMessageError(TypeRefreshToken, "identity", "identity is required")
	}
	return nil
}

type DisconnectMessage struct {
	Identity core.Identity
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if m.Identity.IsZero() {
		return core.InvalidMessageError(TypeDisconnect, "identity", "identity is required")
	}
	return nil
}
