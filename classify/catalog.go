package classify

import (
	"net/http"
	"strings"
)

// Catalog supplies the human messages for classified failures when the
// server did not author one. Replace it wholesale to localize.
type Catalog struct {
	Statuses map[int]string
	Network  string
	Timeout  string
	Fallback string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Statuses: map[int]string{
			http.StatusBadRequest:          "The request could not be understood",
			http.StatusUnauthorized:        "Your session is no longer valid, please sign in again",
			http.StatusForbidden:           "You do not have permission to perform this action",
			http.StatusNotFound:            "The requested resource could not be found",
			http.StatusConflict:            "The resource changed while you were working, reload and try again",
			http.StatusUnprocessableEntity: "Some fields need attention before this can be saved",
			http.StatusTooManyRequests:     "Too many requests, slow down and try again",
			http.StatusInternalServerError: "The server ran into a problem, try again shortly",
			http.StatusBadGateway:          "The server is temporarily unreachable, try again shortly",
			http.StatusServiceUnavailable:  "The service is temporarily unavailable, try again shortly",
			http.StatusGatewayTimeout:      "The server took too long to answer, try again shortly",
		},
		Network:  "Could not reach the server, check your connection and try again",
		Timeout:  "The request timed out, try again",
		Fallback: "Something went wrong, please try again",
	}
}

// messageFor resolves in fixed precedence: server-authored message, status
// catalog entry, network/timeout entry, generic fallback.
func (c Catalog) messageFor(category Category, evidence Evidence) string {
	if message := strings.TrimSpace(evidence.ServerMessage); message != "" {
		return message
	}
	if evidence.Status > 0 {
		if message, ok := c.Statuses[evidence.Status]; ok && strings.TrimSpace(message) != "" {
			return message
		}
		if evidence.Status >= http.StatusInternalServerError {
			if message, ok := c.Statuses[http.StatusInternalServerError]; ok && strings.TrimSpace(message) != "" {
				return message
			}
		}
	}
	switch category {
	case CategoryNetwork:
		if strings.TrimSpace(c.Network) != "" {
			return c.Network
		}
	case CategoryTimeout:
		if strings.TrimSpace(c.Timeout) != "" {
			return c.Timeout
		}
	}
	if strings.TrimSpace(c.Fallback) != "" {
		return c.Fallback
	}
	return DefaultCatalog().Fallback
}

// withFallbacks fills holes in a caller-supplied catalog from the default
// one so localization never has to be exhaustive.
func (c Catalog) withFallbacks() Catalog {
	base := DefaultCatalog()
	merged := Catalog{
		Statuses: make(map[int]string, len(base.Statuses)),
		Network:  strings.TrimSpace(c.Network),
		Timeout:  strings.TrimSpace(c.Timeout),
		Fallback: strings.TrimSpace(c.Fallback),
	}
	for status, message := range base.Statuses {
		merged.Statuses[status] = message
	}
	for status, message := range c.Statuses {
		if strings.TrimSpace(message) != "" {
			merged.Statuses[status] = message
		}
	}
	if merged.Network == "" {
		merged.Network = base.Network
	}
	if merged.Timeout == "" {
		merged.Timeout = base.Timeout
	}
	if merged.Fallback == "" {
		merged.Fallback = base.Fallback
	}
	return merged
}
