package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartSessionMessage]   = (*StartSessionCommand)(nil)
	_ gocmd.Commander[RefreshSessionMessage] = (*RefreshSessionCommand)(nil)
	_ gocmd.Commander[EndSessionMessage]     = (*EndSessionCommand)(nil)
	_ gocmd.Commander[SendRequestMessage]    = (*SendRequestCommand)(nil)
)
