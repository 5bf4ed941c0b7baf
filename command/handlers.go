package command

import (
	"context"

	"github.com/goliatone/go-authclient/core"
	gocmd "github.com/goliatone/go-command"
)

type SessionService interface {
	StartSession(ctx context.Context, req core.StartSessionRequest) (core.CredentialSet, error)
	RefreshSession(ctx context.Context) (core.CredentialSet, error)
	EndSession(ctx context.Context, reason core.SessionEndReason) (core.SessionEndedEvent, error)
	Send(ctx context.Context, req core.Request) (*core.Response, error)
}

type StartSessionCommand struct {
	service SessionService
}

func NewStartSessionCommand(service SessionService) *StartSessionCommand {
	return &StartSessionCommand{service: service}
}

func (c *StartSessionCommand) Execute(ctx context.Context, msg StartSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.StartSession(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshSessionCommand struct {
	service SessionService
}

func NewRefreshSessionCommand(service SessionService) *RefreshSessionCommand {
	return &RefreshSessionCommand{service: service}
}

func (c *RefreshSessionCommand) Execute(ctx context.Context, msg RefreshSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.RefreshSession(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EndSessionCommand struct {
	service SessionService
}

func NewEndSessionCommand(service SessionService) *EndSessionCommand {
	return &EndSessionCommand{service: service}
}

func (c *EndSessionCommand) Execute(ctx context.Context, msg EndSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.EndSession(ctx, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SendRequestCommand struct {
	service SessionService
}

func NewSendRequestCommand(service SessionService) *SendRequestCommand {
	return &SendRequestCommand{service: service}
}

func (c *SendRequestCommand) Execute(ctx context.Context, msg SendRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.Send(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
