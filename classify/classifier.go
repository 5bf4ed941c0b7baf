// Package classify turns raw transport and protocol failures into a stable,
// actionable taxonomy: ten categories collapsed into four types, with a
// deterministic priority order so one raw error always yields one verdict.
// The engine is standalone; it never depends on the client pipeline.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
)

type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryPermission Category = "permission"
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "notfound"
	CategoryConflict   Category = "conflict"
	CategoryServer     Category = "server"
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryBusiness   Category = "business"
	CategoryUnknown    Category = "unknown"
)

type Type string

const (
	TypeRetryable    Type = "retryable"
	TypeNonRetryable Type = "non_retryable"
	TypeBusiness     Type = "business"
	TypeSystem       Type = "system"
)

type Flags struct {
	IsAuthError       bool
	IsPermissionError bool
	IsValidationError bool
	IsRetryable       bool
	IsBusinessError   bool
}

// ClassifiedError is the immutable verdict for one raw failure. It is
// derived once and never mutated afterwards.
type ClassifiedError struct {
	Message     string
	Status      int
	Code        string
	Category    Category
	Type        Type
	Flags       Flags
	FieldErrors map[string]string

	cause error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return "classify: <nil>"
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Evidence is the raw signal set extracted from a failure before any rule
// runs. Keeping extraction separate from evaluation makes the priority
// order testable without HTTP.
type Evidence struct {
	Status        int
	HasResponse   bool
	NoResponse    bool
	Timeout       bool
	ServerMessage string
	Code          string
	FieldErrors   map[string]string
	Cause         error
}

type rule struct {
	category Category
	matches  func(Evidence) bool
}

// classificationRules is the priority order contract: first match wins. A
// single raw failure can satisfy several weak predicates, so position in
// this table, not predicate strength, decides the category.
var classificationRules = []rule{
	{CategoryAuth, func(e Evidence) bool { return e.Status == http.StatusUnauthorized }},
	{CategoryPermission, func(e Evidence) bool { return e.Status == http.StatusForbidden }},
	{CategoryValidation, func(e Evidence) bool {
		return e.Status == http.StatusUnprocessableEntity || len(e.FieldErrors) > 0
	}},
	{CategoryNotFound, func(e Evidence) bool { return e.Status == http.StatusNotFound }},
	{CategoryConflict, func(e Evidence) bool { return e.Status == http.StatusConflict }},
	{CategoryServer, func(e Evidence) bool { return e.Status >= http.StatusInternalServerError }},
	{CategoryNetwork, func(e Evidence) bool { return e.NoResponse && !e.Timeout }},
	{CategoryTimeout, func(e Evidence) bool { return e.Timeout }},
	{CategoryBusiness, func(e Evidence) bool { return strings.TrimSpace(e.ServerMessage) != "" }},
	{CategoryUnknown, func(Evidence) bool { return true }},
}

type Classifier struct {
	catalog Catalog
}

type ClassifierOption func(*Classifier)

// WithCatalog swaps the message catalog, the localization hook for callers
// that render classified failures to people.
func WithCatalog(catalog Catalog) ClassifierOption {
	return func(c *Classifier) {
		c.catalog = catalog.withFallbacks()
	}
}

func NewClassifier(options ...ClassifierOption) *Classifier {
	classifier := &Classifier{catalog: DefaultCatalog()}
	for _, opt := range options {
		if opt != nil {
			opt(classifier)
		}
	}
	return classifier
}

// Classify maps any raw failure into the taxonomy. An already classified
// error passes through unchanged; classification is pure and deterministic.
func (c *Classifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified != nil {
		return classified
	}
	return c.evaluate(ExtractEvidence(err))
}

// ClassifyResponse maps a received HTTP failure response into the taxonomy.
func (c *Classifier) ClassifyResponse(status int, header map[string]string, body []byte) *ClassifiedError {
	evidence := evidenceFromResponse(status, header, body, false)
	return c.evaluate(evidence)
}

func (c *Classifier) evaluate(evidence Evidence) *ClassifiedError {
	category := CategoryUnknown
	for _, candidate := range classificationRules {
		if candidate.matches(evidence) {
			category = candidate.category
			break
		}
	}

	kind := typeFor(category, evidence)
	classified := &ClassifiedError{
		Message:  c.catalog.messageFor(category, evidence),
		Status:   evidence.Status,
		Code:     evidence.Code,
		Category: category,
		Type:     kind,
		Flags: Flags{
			IsAuthError:       category == CategoryAuth,
			IsPermissionError: category == CategoryPermission,
			IsValidationError: category == CategoryValidation,
			IsRetryable:       kind == TypeRetryable,
			IsBusinessError:   category == CategoryBusiness,
		},
		cause: evidence.Cause,
	}
	if len(evidence.FieldErrors) > 0 {
		classified.FieldErrors = make(map[string]string, len(evidence.FieldErrors))
		for field, message := range evidence.FieldErrors {
			classified.FieldErrors[field] = message
		}
	}
	return classified
}

func typeFor(category Category, evidence Evidence) Type {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryServer:
		return TypeRetryable
	case CategoryAuth, CategoryPermission, CategoryValidation, CategoryNotFound, CategoryConflict:
		return TypeNonRetryable
	case CategoryBusiness:
		return TypeBusiness
	default:
		if strings.TrimSpace(evidence.ServerMessage) != "" {
			return TypeBusiness
		}
		return TypeSystem
	}
}

var defaultClassifier = NewClassifier()

// Classify runs the default engine. Standalone: usable without a client.
func Classify(err error) *ClassifiedError {
	return defaultClassifier.Classify(err)
}

func ClassifyResponse(status int, header map[string]string, body []byte) *ClassifiedError {
	return defaultClassifier.ClassifyResponse(status, header, body)
}

// ExtractEvidence pulls the classification signals out of an error chain.
// Understood inputs: ResponseError, go-errors envelopes, net/url errors,
// context deadline and cancellation, and arbitrary errors as fallback.
func ExtractEvidence(err error) Evidence {
	evidence := Evidence{Cause: err}
	if err == nil {
		return evidence
	}

	var responseErr *ResponseError
	if errors.As(err, &responseErr) && responseErr != nil {
		return evidenceFromResponseError(responseErr, err)
	}

	if richEvidence, ok := evidenceFromRichError(err); ok {
		return richEvidence
	}

	if errors.Is(err, context.DeadlineExceeded) {
		evidence.Timeout = true
		return evidence
	}
	if errors.Is(err, context.Canceled) {
		evidence.NoResponse = true
		return evidence
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			evidence.Timeout = true
		} else {
			evidence.NoResponse = true
		}
		return evidence
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			evidence.Timeout = true
		} else {
			evidence.NoResponse = true
		}
		return evidence
	}

	return evidence
}

func evidenceFromResponseError(responseErr *ResponseError, cause error) Evidence {
	evidence := evidenceFromResponse(responseErr.Status, responseErr.Header, responseErr.Body, responseErr.Timeout)
	evidence.Cause = cause
	return evidence
}

func evidenceFromResponse(status int, header map[string]string, body []byte, timeout bool) Evidence {
	evidence := Evidence{
		Status:  status,
		Timeout: timeout,
	}
	if status > 0 {
		evidence.HasResponse = true
	} else if !timeout {
		evidence.NoResponse = true
	}
	parsed := ParseBody(header, body)
	evidence.ServerMessage = parsed.Message
	evidence.Code = parsed.Code
	evidence.FieldErrors = parsed.FieldErrors
	return evidence
}
