package core

import (
	"context"
	"strings"
	"testing"
)

func TestBearerTokenSignerSetsAuthorization(t *testing.T) {
	signer := BearerTokenSigner{}
	req := &Request{Method: "GET", URL: "/api/projects"}

	err := signer.Sign(context.Background(), req, CredentialSet{
		AccessToken: "at-1",
		TokenType:   TokenTypeBearer,
	})
	if err != nil {
		t.Fatalf("expected signing to succeed, got %v", err)
	}
	if got := req.Headers["Authorization"]; got != "Bearer at-1" {
		t.Fatalf("expected bearer authorization header, got %q", got)
	}
}

func TestBearerTokenSignerHonorsTokenType(t *testing.T) {
	tests := []struct {
		name      string
		tokenType string
		expected  string
	}{
		{name: "explicit type", tokenType: "DPoP", expected: "DPoP at-1"},
		{name: "defaults to bearer", tokenType: "", expected: "Bearer at-1"},
		{name: "trims whitespace", tokenType: "  Bearer  ", expected: "Bearer at-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Method: "GET", URL: "/api/projects"}
			err := BearerTokenSigner{}.Sign(context.Background(), req, CredentialSet{
				AccessToken: "at-1",
				TokenType:   tt.tokenType,
			})
			if err != nil {
				t.Fatalf("expected signing to succeed, got %v", err)
			}
			if got := req.Headers["Authorization"]; got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestBearerTokenSignerKeepsExistingHeaders(t *testing.T) {
	req := &Request{
		Method:  "POST",
		URL:     "/api/projects",
		Headers: map[string]string{"X-Request-ID": "req_1"},
	}

	err := BearerTokenSigner{}.Sign(context.Background(), req, CredentialSet{AccessToken: "at-1"})
	if err != nil {
		t.Fatalf("expected signing to succeed, got %v", err)
	}
	if req.Headers["X-Request-ID"] != "req_1" {
		t.Fatalf("expected existing headers to survive, got %#v", req.Headers)
	}
	if req.Headers["Authorization"] == "" {
		t.Fatalf("expected authorization header to be added")
	}
}

func TestBearerTokenSignerValidatesInput(t *testing.T) {
	if err := (BearerTokenSigner{}).Sign(context.Background(), nil, CredentialSet{AccessToken: "at-1"}); err == nil {
		t.Fatalf("expected nil request to be rejected")
	}

	req := &Request{Method: "GET", URL: "/api/projects"}
	err := BearerTokenSigner{}.Sign(context.Background(), req, CredentialSet{AccessToken: "   "})
	if err == nil {
		t.Fatalf("expected empty access token to be rejected")
	}
	if !strings.Contains(err.Error(), "access token") {
		t.Fatalf("expected access token error, got %v", err)
	}
}
