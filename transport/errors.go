package transport

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-authclient/core"
)

// transportError builds the envelope for adapter failures. A zero code
// means no HTTP status applies; classification then keys on the category.
func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithTextCode(transportTextCode(category))
	if code > 0 {
		err = err.WithCode(code)
	}
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
		WithTextCode(transportTextCode(category))
	if code > 0 {
		err = err.WithCode(code)
	}
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ClientErrorBadInput
	case goerrors.CategoryAuth:
		return core.ClientErrorUnauthorized
	case goerrors.CategoryAuthz:
		return core.ClientErrorForbidden
	case goerrors.CategoryExternal:
		return core.ClientErrorTransportFailed
	default:
		return core.ClientErrorInternal
	}
}
