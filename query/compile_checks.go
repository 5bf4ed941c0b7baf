package query

import (
	"github.com/goliatone/go-authclient/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[SessionStatusMessage, core.TokenState]        = (*SessionStatusQuery)(nil)
	_ gocmd.Querier[ActiveCredentialMessage, *core.CredentialSet] = (*ActiveCredentialQuery)(nil)
	_ gocmd.Querier[ListSessionEventsMessage, SessionEventPage]   = (*ListSessionEventsQuery)(nil)
)
