package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-authclient/core"
)

// UnsupportedAdapter stands in for a transport kind that is declared but
// not wired. Every dispatch fails with the registered reason.
type UnsupportedAdapter struct {
	kind   string
	reason string
}

func NewUnsupportedAdapter(kind string, reason string) *UnsupportedAdapter {
	return &UnsupportedAdapter{
		kind:   strings.TrimSpace(strings.ToLower(kind)),
		reason: strings.TrimSpace(reason),
	}
}

func (a *UnsupportedAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *UnsupportedAdapter) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: adapter is nil")
	}
	if a.reason != "" {
		return core.TransportResponse{}, fmt.Errorf(
			"transport: %s adapter is not configured: %s",
			a.kind,
			a.reason,
		)
	}
	return core.TransportResponse{}, fmt.Errorf(
		"transport: %s adapter is not configured",
		a.kind,
	)
}

var _ core.TransportAdapter = (*UnsupportedAdapter)(nil)
