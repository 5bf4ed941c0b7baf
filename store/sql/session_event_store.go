package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authclient/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// SessionEventStore appends to the session audit trail. Metadata is redacted
// before it touches the table; listings come back newest first.
type SessionEventStore struct {
	repo repository.Repository[*sessionEventRecord]
}

func NewSessionEventStore(db *bun.DB) (*SessionEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*sessionEventRecord](db, sessionEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid session event repository wiring: %w", err)
		}
	}
	return &SessionEventStore{repo: repo}, nil
}

func (s *SessionEventStore) Append(ctx context.Context, event core.SessionEvent) (core.SessionEvent, error) {
	if s == nil || s.repo == nil {
		return core.SessionEvent{}, fmt.Errorf("sqlstore: session event store is not configured")
	}
	if strings.TrimSpace(event.Kind) == "" {
		return core.SessionEvent{}, fmt.Errorf("sqlstore: session event kind is required")
	}
	event.Profile = normalizeProfile(event.Profile)

	record := newSessionEventRecord(event, time.Now().UTC())
	inserted, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.SessionEvent{}, err
	}
	return inserted.toDomain(), nil
}

func (s *SessionEventStore) ListByProfile(ctx context.Context, profile string, limit, offset int) ([]core.SessionEvent, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: session event store is not configured")
	}
	profile = normalizeProfile(profile)
	if offset < 0 {
		offset = 0
	}

	selectors := []repository.SelectCriteria{
		repository.SelectBy("profile", "=", profile),
		repository.OrderBy("occurred_at DESC"),
		repository.OrderBy("created_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, offset))
	} else if offset > 0 {
		selectors = append(selectors, repository.SelectPaginate(listAllEventsCap, offset))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}

	events := make([]core.SessionEvent, len(records))
	for i, record := range records {
		events[i] = record.toDomain()
	}
	return events, total, nil
}

// listAllEventsCap bounds unpaginated listings so an offset without a limit
// cannot become an unbounded scan.
const listAllEventsCap = 1000
