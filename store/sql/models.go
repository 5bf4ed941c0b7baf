package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	CredentialStatusActive  = "active"
	CredentialStatusRotated = "rotated"
	CredentialStatusRevoked = "revoked"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:auth_credentials,alias:ac"`

	ID               string         `bun:"id,pk"`
	Profile          string         `bun:"profile,notnull"`
	Version          int            `bun:"version,notnull"`
	TokenType        string         `bun:"token_type,notnull"`
	AccessToken      []byte         `bun:"access_token,notnull"`
	RefreshToken     []byte         `bun:"refresh_token"`
	Encrypted        bool           `bun:"encrypted,notnull"`
	Subject          map[string]any `bun:"subject,type:jsonb,notnull"`
	Metadata         map[string]any `bun:"metadata,type:jsonb,notnull"`
	ExpiresAt        *time.Time     `bun:"expires_at,nullzero"`
	Status           string         `bun:"status,notnull"`
	RevocationReason string         `bun:"revocation_reason,notnull"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type sessionEventRecord struct {
	bun.BaseModel `bun:"table:auth_session_events,alias:ase"`

	ID         string         `bun:"id,pk"`
	Profile    string         `bun:"profile,notnull"`
	Kind       string         `bun:"kind,notnull"`
	Reason     string         `bun:"reason,notnull"`
	ReturnTo   string         `bun:"return_to,notnull"`
	Detail     string         `bun:"detail,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
