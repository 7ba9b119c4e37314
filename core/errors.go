package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput          = "CRM_BAD_INPUT"
	ErrorNotAuthorized     = "CRM_NOT_AUTHORIZED"
	ErrorExchangeFailed    = "CRM_EXCHANGE_FAILED"
	ErrorOAuthStateInvalid = "CRM_OAUTH_STATE_INVALID"
	ErrorPageFailed        = "CRM_PAGE_FAILED"
	ErrorMalformedCursor   = "CRM_MALFORMED_CURSOR"
	ErrorRateLimited       = "CRM_RATE_LIMITED"
	ErrorExternalFailure   = "CRM_EXTERNAL_FAILURE"
	ErrorInternal          = "CRM_INTERNAL_ERROR"
)

var (
	ErrNotAuthorized   = errors.New("core: identity is not authorized")
	ErrExchangeFailed  = errors.New("core: token exchange failed")
	ErrPageFailed      = errors.New("core: page fetch failed")
	ErrMalformedCursor = errors.New("core: malformed cursor")
)

type AuthErrorKind string

const (
	AuthNotAuthorized  AuthErrorKind = "not_authorized"
	AuthExchangeFailed AuthErrorKind = "exchange_failed"
)

// ExchangeDetails describes a rejected grant exchange. Payload is the raw
// body returned by the token endpoint.
type ExchangeDetails struct {
	GrantType   string
	StatusCode  int
	ErrorCode   string
	Description string
	Payload     []byte
}

type AuthError struct {
	Kind     AuthErrorKind
	Identity Identity
	Details  *ExchangeDetails
	Cause    error
}

func NotAuthorizedError(identity Identity) *AuthError {
	return &AuthError{Kind: AuthNotAuthorized, Identity: identity}
}

func ExchangeFailedError(details ExchangeDetails, cause error) *AuthError {
	details.Payload = append([]byte(nil), details.Payload...)
	return &AuthError{Kind: AuthExchangeFailed, Details: &details, Cause: cause}
}

func (e *AuthError) sentinel() error {
	if e != nil && e.Kind == AuthNotAuthorized {
		return ErrNotAuthorized
	}
	return ErrExchangeFailed
}

func (e *AuthError) Error() string {
	if e == nil {
		return ErrExchangeFailed.Error()
	}
	parts := []string{e.sentinel().Error()}
	if !e.Identity.IsZero() {
		parts = append(parts, fmt.Sprintf("identity %q", e.Identity.String()))
	}
	if e.Details != nil {
		if e.Details.StatusCode > 0 {
			parts = append(parts, fmt.Sprintf("status %d", e.Details.StatusCode))
		}
		if code := strings.TrimSpace(e.Details.ErrorCode); code != "" {
			parts = append(parts, code)
		}
		if desc := strings.TrimSpace(e.Details.Description); desc != "" {
			parts = append(parts, desc)
		}
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return e.sentinel()
	}
	return errors.Join(e.sentinel(), e.Cause)
}

// WithIdentity returns a copy bound to identity.
func (e *AuthError) WithIdentity(identity Identity) *AuthError {
	if e == nil {
		return nil
	}
	copied := *e
	copied.Identity = identity
	return &copied
}

func (e *AuthError) ToServiceError() *goerrors.Error {
	if e == nil {
		return newServiceError(ErrExchangeFailed.Error(), goerrors.CategoryExternal, ErrorExchangeFailed)
	}
	metadata := map[string]any{"kind": string(e.Kind)}
	if !e.Identity.IsZero() {
		metadata["identity"] = e.Identity.String()
	}
	if e.Details != nil {
		if e.Details.GrantType != "" {
			metadata["grant_type"] = e.Details.GrantType
		}
		if e.Details.StatusCode > 0 {
			metadata["upstream_status"] = e.Details.StatusCode
		}
		if e.Details.ErrorCode != "" {
			metadata["upstream_error"] = e.Details.ErrorCode
		}
		if len(e.Details.Payload) > 0 {
			metadata["upstream_payload"] = string(e.Details.Payload)
		}
	}
	textCode := ErrorExchangeFailed
	status := http.StatusBadGateway
	category := goerrors.CategoryExternal
	if e.Kind == AuthNotAuthorized {
		textCode = ErrorNotAuthorized
		status = http.StatusUnauthorized
		category = goerrors.CategoryAuth
	}
	return goerrors.Wrap(e, category, e.Error()).
		WithCode(status).
		WithTextCode(textCode).
		WithMetadata(metadata)
}

type FetchErrorKind string

const (
	FetchPageFailed      FetchErrorKind = "page_failed"
	FetchMalformedCursor FetchErrorKind = "malformed_cursor"
)

type FetchError struct {
	Kind       FetchErrorKind
	Resource   ResourceType
	Page       int
	Cursor     Cursor
	StatusCode int
	Details    string
	Payload    []byte
	Cause      error
}

func PageFailedError(resource ResourceType, page int, cursor Cursor, details string, cause error) *FetchError {
	return &FetchError{
		Kind:     FetchPageFailed,
		Resource: resource,
		Page:     page,
		Cursor:   cursor,
		Details:  strings.TrimSpace(details),
		Cause:    cause,
	}
}

func MalformedCursorError(resource ResourceType, page int, cursor Cursor, details string) *FetchError {
	return &FetchError{
		Kind:     FetchMalformedCursor,
		Resource: resource,
		Page:     page,
		Cursor:   cursor,
		Details:  strings.TrimSpace(details),
	}
}

func (e *FetchError) sentinel() error {
	if e != nil && e.Kind == FetchMalformedCursor {
		return ErrMalformedCursor
	}
	return ErrPageFailed
}

func (e *FetchError) Error() string {
	if e == nil {
		return ErrPageFailed.Error()
	}
	parts := []string{e.sentinel().Error()}
	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("resource %q page %d", e.Resource, e.Page))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return e.sentinel()
	}
	return errors.Join(e.sentinel(), e.Cause)
}

func (e *FetchError) ToServiceError() *goerrors.Error {
	if e == nil {
		return newServiceError(ErrPageFailed.Error(), goerrors.CategoryExternal, ErrorPageFailed)
	}
	metadata := map[string]any{
		"kind":     string(e.Kind),
		"resource": string(e.Resource),
		"page":     e.Page,
	}
	if !e.Cursor.IsZero() {
		metadata["cursor"] = e.Cursor.String()
	}
	if e.StatusCode > 0 {
		metadata["upstream_status"] = e.StatusCode
	}
	if len(e.Payload) > 0 {
		metadata["upstream_payload"] = string(e.Payload)
	}
	textCode := ErrorPageFailed
	category := goerrors.CategoryExternal
	status := http.StatusBadGateway
	if e.Kind == FetchMalformedCursor {
		textCode = ErrorMalformedCursor
	}
	var converter serviceErrorConverter
	if e.Cause != nil && errors.As(e.Cause, &converter) {
		if causeErr := converter.ToServiceError(); causeErr != nil && causeErr.Category == goerrors.CategoryRateLimit {
			textCode = ErrorRateLimited
			category = goerrors.CategoryRateLimit
			status = http.StatusTooManyRequests
			for key, value := range causeErr.Metadata {
				if _, exists := metadata[key]; !exists {
					metadata[key] = value
				}
			}
		}
	}
	return goerrors.Wrap(e, category, e.Error()).
		WithCode(status).
		WithTextCode(textCode).
		WithMetadata(metadata)
}

type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return ensureServiceErrorEnvelope(authErr.ToServiceError())
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return ensureServiceErrorEnvelope(fetchErr.ToServiceError())
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}
	var converter serviceErrorConverter
	if errors.As(err, &converter) {
		return ensureServiceErrorEnvelope(converter.ToServiceError())
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "oauth state"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorOAuthStateInvalid)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// InvalidMessageError rejects a command or query message whose field failed
// validation.
func InvalidMessageError(messageType, field, reason string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.NewValidation(fmt.Sprintf("crm: invalid %s message", messageType), goerrors.FieldError{
			Field:   field,
			Message: reason,
		}).
			WithTextCode(ErrorBadInput).
			WithSeverity(goerrors.SeverityError).
			WithMetadata(map[string]any{"message_type": messageType}),
	)
}

// UnwiredHandlerError reports a command or query handler built without the
// service it delegates to.
func UnwiredHandlerError(messageType, dependency string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("crm: %s handler has no %s", messageType, dependency),
		goerrors.CategoryInternal,
		ErrorInternal,
	).WithMetadata(map[string]any{"message_type": messageType, "dependency": dependency})
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorNotAuthorized
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
