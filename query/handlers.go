package query

import (
	"context"

	"github.com/goliatone/go-authclient/core"
)

type SessionReader interface {
	SessionStatus(ctx context.Context) (core.TokenState, error)
	ActiveCredential(ctx context.Context) (*core.CredentialSet, error)
	SessionEvents(ctx context.Context, limit int, offset int) ([]core.SessionEvent, int, error)
}

// SessionEventPage folds the event slice and the unpaginated total into a
// single query result so collectors carry both.
type SessionEventPage struct {
	Events []core.SessionEvent
	Total  int
}

type SessionStatusQuery struct {
	reader SessionReader
}

func NewSessionStatusQuery(reader SessionReader) *SessionStatusQuery {
	return &SessionStatusQuery{reader: reader}
}

func (q *SessionStatusQuery) Query(ctx context.Context, msg SessionStatusMessage) (core.TokenState, error) {
	if q == nil || q.reader == nil {
		return core.TokenState{}, queryDependencyError("query: session reader is required")
	}
	return q.reader.SessionStatus(ctx)
}

type ActiveCredentialQuery struct {
	reader SessionReader
}

func NewActiveCredentialQuery(reader SessionReader) *ActiveCredentialQuery {
	return &ActiveCredentialQuery{reader: reader}
}

func (q *ActiveCredentialQuery) Query(ctx context.Context, msg ActiveCredentialMessage) (*core.CredentialSet, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: session reader is required")
	}
	return q.reader.ActiveCredential(ctx)
}

type ListSessionEventsQuery struct {
	reader SessionReader
}

func NewListSessionEventsQuery(reader SessionReader) *ListSessionEventsQuery {
	return &ListSessionEventsQuery{reader: reader}
}

func (q *ListSessionEventsQuery) Query(ctx context.Context, msg ListSessionEventsMessage) (SessionEventPage, error) {
	if q == nil || q.reader == nil {
		return SessionEventPage{}, queryDependencyError("query: session reader is required")
	}
	events, total, err := q.reader.SessionEvents(ctx, msg.Limit, msg.Offset)
	if err != nil {
		return SessionEventPage{}, err
	}
	return SessionEventPage{Events: events, Total: total}, nil
}
