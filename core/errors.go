package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ClientErrorBadInput           = "BAD_INPUT"
	ClientErrorCredentialNotFound = "CREDENTIAL_NOT_FOUND"
	ClientErrorNoRefreshToken     = "NO_REFRESH_TOKEN"
	ClientErrorRefreshFailed      = "REFRESH_FAILED"
	ClientErrorRefreshRejected    = "REFRESH_REJECTED"
	ClientErrorSessionEnded       = "SESSION_ENDED"
	ClientErrorUnauthorized       = "UNAUTHORIZED"
	ClientErrorForbidden          = "FORBIDDEN"
	ClientErrorTransportFailed    = "TRANSPORT_FAILED"
	ClientErrorInternal           = "INTERNAL_ERROR"
)

func clientErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureClientErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNoCredential):
		return newClientError(err.Error(), goerrors.CategoryNotFound, ClientErrorCredentialNotFound)
	case errors.Is(err, ErrNoRefreshToken):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorNoRefreshToken)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "session ended"), strings.Contains(msg, "session has ended"):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorSessionEnded)
	case strings.Contains(msg, "refresh") && (strings.Contains(msg, "rejected") || strings.Contains(msg, "denied")):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorRefreshRejected)
	case strings.Contains(msg, "refresh") && strings.Contains(msg, "failed"):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorRefreshFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newClientError(err.Error(), goerrors.CategoryBadInput, ClientErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureClientErrorEnvelope(mapped)
}

func newClientError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureClientErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureClientErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = clientHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultClientTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultClientTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ClientErrorBadInput
	case goerrors.CategoryNotFound:
		return ClientErrorCredentialNotFound
	case goerrors.CategoryAuth:
		return ClientErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ClientErrorForbidden
	case goerrors.CategoryExternal:
		return ClientErrorTransportFailed
	case goerrors.CategoryOperation:
		return ClientErrorRefreshFailed
	default:
		return ClientErrorInternal
	}
}

func clientHTTPStatus(category goerrors.Category) int {
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
