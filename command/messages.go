package command

import (
	"strings"

	"github.com/goliatone/go-authclient/core"
)

const (
	TypeStartSession   = "authclient.command.start_session"
	TypeRefreshSession = "authclient.command.refresh_session"
	TypeEndSession     = "authclient.command.end_session"
	TypeSendRequest    = "authclient.command.send_request"
)

type StartSessionMessage struct {
	Request core.StartSessionRequest
}

func (StartSessionMessage) Type() string { return TypeStartSession }

func (m StartSessionMessage) Validate() error {
	if strings.TrimSpace(m.Request.AccessToken) == "" {
		return commandValidationError("access_token", "access token is required")
	}
	return nil
}

// RefreshSessionMessage carries no payload: the refresh always targets the
// credential held by the client's configured profile.
type RefreshSessionMessage struct{}

func (RefreshSessionMessage) Type() string { return TypeRefreshSession }

type EndSessionMessage struct {
	Reason core.SessionEndReason
}

func (EndSessionMessage) Type() string { return TypeEndSession }

type SendRequestMessage struct {
	Request core.Request
}

func (SendRequestMessage) Type() string { return TypeSendRequest }

func (m SendRequestMessage) Validate() error {
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "request url is required")
	}
	return nil
}
