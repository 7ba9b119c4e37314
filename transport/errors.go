package transport

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorTransportBadInput = "CRM_TRANSPORT_BAD_INPUT"
	ErrorTransportFailure  = "CRM_TRANSPORT_FAILURE"
	ErrorTransportInternal = "CRM_TRANSPORT_INTERNAL"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorTransportBadInput
	case goerrors.CategoryExternal:
		return ErrorTransportFailure
	default:
		return ErrorTransportInternal
	}
}
