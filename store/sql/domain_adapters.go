package sqlstore

import (
	"time"

	"github.com/goliatone/go-authclient/core"
)

func newCredentialRecord(set core.CredentialSet, version int, now time.Time) *credentialRecord {
	tokenType := set.TokenType
	if tokenType == "" {
		tokenType = core.TokenTypeBearer
	}
	return &credentialRecord{
		Profile:      set.Profile,
		Version:      version,
		TokenType:    tokenType,
		AccessToken:  []byte(set.AccessToken),
		RefreshToken: []byte(set.RefreshToken),
		Subject:      copyJSONMap(set.Subject),
		Metadata:     copyJSONMap(set.Metadata),
		ExpiresAt:    cloneTimePointer(set.ExpiresAt),
		Status:       CredentialStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *credentialRecord) toDomain() core.CredentialSet {
	if r == nil {
		return core.CredentialSet{}
	}
	return core.CredentialSet{
		Profile:      r.Profile,
		TokenType:    r.TokenType,
		AccessToken:  string(r.AccessToken),
		RefreshToken: string(r.RefreshToken),
		ExpiresAt:    cloneTimePointer(r.ExpiresAt),
		Subject:      copyJSONMap(r.Subject),
		Metadata:     copyJSONMap(r.Metadata),
		Version:      r.Version,
	}
}

func newSessionEventRecord(event core.SessionEvent, now time.Time) *sessionEventRecord {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return &sessionEventRecord{
		ID:         event.ID,
		Profile:    event.Profile,
		Kind:       event.Kind,
		Reason:     event.Reason,
		ReturnTo:   event.ReturnTo,
		Detail:     event.Detail,
		Metadata:   redactMetadata(event.Metadata),
		OccurredAt: occurredAt.UTC(),
		CreatedAt:  now,
	}
}

func (r *sessionEventRecord) toDomain() core.SessionEvent {
	if r == nil {
		return core.SessionEvent{}
	}
	return core.SessionEvent{
		ID:         r.ID,
		Profile:    r.Profile,
		Kind:       r.Kind,
		Reason:     r.Reason,
		ReturnTo:   r.ReturnTo,
		Detail:     r.Detail,
		Metadata:   copyJSONMap(r.Metadata),
		OccurredAt: r.OccurredAt,
		CreatedAt:  r.CreatedAt,
	}
}

func copyJSONMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		target[key] = value
	}
	return target
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
