package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// evidenceFromRichError reads classification signals out of a go-errors
// envelope. Code carries the HTTP status when the producer recorded one;
// otherwise the category decides.
func evidenceFromRichError(err error) (Evidence, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return Evidence{}, false
	}

	evidence := Evidence{
		ServerMessage: strings.TrimSpace(rich.Message),
		Code:          strings.TrimSpace(rich.TextCode),
		Cause:         err,
	}
	if rich.Code >= http.StatusContinue && rich.Code < 600 {
		evidence.Status = rich.Code
		evidence.HasResponse = true
	} else {
		applyCategoryEvidence(&evidence, rich.Category, err)
	}
	if validation := rich.AllValidationErrors(); len(validation) > 0 {
		evidence.FieldErrors = make(map[string]string, len(validation))
		for _, fieldErr := range validation {
			if strings.TrimSpace(fieldErr.Field) == "" {
				continue
			}
			evidence.FieldErrors[fieldErr.Field] = fieldErr.Message
		}
	}
	return evidence, true
}

func applyCategoryEvidence(evidence *Evidence, category goerrors.Category, cause error) {
	switch category {
	case goerrors.CategoryAuth:
		evidence.Status = http.StatusUnauthorized
		evidence.HasResponse = true
	case goerrors.CategoryAuthz:
		evidence.Status = http.StatusForbidden
		evidence.HasResponse = true
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		evidence.Status = http.StatusUnprocessableEntity
		evidence.HasResponse = true
	case goerrors.CategoryNotFound:
		evidence.Status = http.StatusNotFound
		evidence.HasResponse = true
	case goerrors.CategoryConflict:
		evidence.Status = http.StatusConflict
		evidence.HasResponse = true
	case goerrors.CategoryRateLimit:
		evidence.Status = http.StatusTooManyRequests
		evidence.HasResponse = true
	case goerrors.CategoryExternal:
		// Upstream failed before producing a response. A wrapped timeout
		// still counts as a timeout, not a connection failure.
		if isTimeoutCause(cause) {
			evidence.Timeout = true
		} else {
			evidence.NoResponse = true
		}
	case goerrors.CategoryInternal, goerrors.CategoryOperation:
		evidence.Status = http.StatusInternalServerError
		evidence.HasResponse = true
	}
}

func isTimeoutCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

var richCategories = map[Category]goerrors.Category{
	CategoryAuth:       goerrors.CategoryAuth,
	CategoryPermission: goerrors.CategoryAuthz,
	CategoryValidation: goerrors.CategoryValidation,
	CategoryNotFound:   goerrors.CategoryNotFound,
	CategoryConflict:   goerrors.CategoryConflict,
	CategoryServer:     goerrors.CategoryExternal,
	CategoryNetwork:    goerrors.CategoryExternal,
	CategoryTimeout:    goerrors.CategoryExternal,
	CategoryBusiness:   goerrors.CategoryOperation,
	CategoryUnknown:    goerrors.CategoryInternal,
}

var richTextCodes = map[Category]string{
	CategoryAuth:       "AUTH",
	CategoryPermission: "PERMISSION",
	CategoryValidation: "VALIDATION",
	CategoryNotFound:   "NOT_FOUND",
	CategoryConflict:   "CONFLICT",
	CategoryServer:     "SERVER",
	CategoryNetwork:    "NETWORK",
	CategoryTimeout:    "TIMEOUT",
	CategoryBusiness:   "BUSINESS",
	CategoryUnknown:    "UNKNOWN",
}

// RichError renders the verdict as a go-errors envelope so callers on that
// surface keep the category, text code, status, and field detail.
func (e *ClassifiedError) RichError() *goerrors.Error {
	if e == nil {
		return nil
	}

	category, ok := richCategories[e.Category]
	if !ok {
		category = goerrors.CategoryInternal
	}

	var rich *goerrors.Error
	if len(e.FieldErrors) > 0 && e.Category == CategoryValidation {
		fields := make([]string, 0, len(e.FieldErrors))
		for field := range e.FieldErrors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		fieldErrors := make([]goerrors.FieldError, 0, len(fields))
		for _, field := range fields {
			fieldErrors = append(fieldErrors, goerrors.FieldError{
				Field:   field,
				Message: e.FieldErrors[field],
			})
		}
		rich = goerrors.NewValidation(e.Message, fieldErrors...)
	} else if e.cause != nil {
		rich = goerrors.Wrap(e.cause, category, e.Message)
	} else {
		rich = goerrors.New(e.Message, category)
	}

	textCode := strings.TrimSpace(e.Code)
	if textCode == "" {
		textCode = richTextCodes[e.Category]
	}
	rich = rich.WithTextCode(textCode)
	if e.Status > 0 {
		rich = rich.WithCode(e.Status)
	}
	return rich
}

// FromError recovers a verdict from anywhere in an error chain.
func FromError(err error) (*ClassifiedError, bool) {
	if err == nil {
		return nil, false
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified != nil {
		return classified, true
	}
	return nil, false
}
