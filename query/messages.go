package query

const (
	TypeSessionStatus     = "authclient.query.session_status"
	TypeActiveCredential  = "authclient.query.active_credential"
	TypeListSessionEvents = "authclient.query.list_session_events"
)

type SessionStatusMessage struct{}

func (SessionStatusMessage) Type() string { return TypeSessionStatus }

type ActiveCredentialMessage struct{}

func (ActiveCredentialMessage) Type() string { return TypeActiveCredential }

type ListSessionEventsMessage struct {
	Limit  int
	Offset int
}

func (ListSessionEventsMessage) Type() string { return TypeListSessionEvents }

func (m ListSessionEventsMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}
