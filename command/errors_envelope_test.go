package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-authclient/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestStartSessionMessage_ValidateReturnsRichError(t *testing.T) {
	err := (StartSessionMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ClientErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ClientErrorBadInput, rich.TextCode)
	}
	fields := rich.AllValidationErrors()
	if len(fields) == 0 || fields[0].Field != "access_token" {
		t.Fatalf("expected access_token field error, got %#v", fields)
	}
}

func TestSendRequestMessage_ValidateReturnsRichError(t *testing.T) {
	err := (SendRequestMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	fields := rich.AllValidationErrors()
	if len(fields) == 0 || fields[0].Field != "url" {
		t.Fatalf("expected url field error, got %#v", fields)
	}
}

func TestStartSessionCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *StartSessionCommand
	err := cmd.Execute(context.Background(), StartSessionMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ClientErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ClientErrorInternal, rich.TextCode)
	}
}
