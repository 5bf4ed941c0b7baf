package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentialStatusTransition = errors.New("core: invalid credential status transition")
	ErrNoCredential                      = errors.New("core: no credential stored")
	ErrNoRefreshToken                    = errors.New("core: credential has no refresh token")
)

// DefaultProfile names the session slot used when callers do not pick one.
const DefaultProfile = "default"

// TokenTypeBearer is the only token type the pipeline attaches by default.
const TokenTypeBearer = "Bearer"

// CredentialSet is the working credential pair for one profile. It is
// replaced wholesale on refresh and destroyed on session end; ExpiresAt is
// derived from the access token's exp claim when the issuer did not report
// an explicit expiry.
type CredentialSet struct {
	Profile      string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Subject      map[string]any
	Metadata     map[string]any
	Version      int
}

func (c CredentialSet) HasAccessToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

func (c CredentialSet) HasRefreshToken() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// CloneCredentialSet returns a deep copy so callers cannot mutate stored
// credential state through shared maps.
func CloneCredentialSet(in CredentialSet) CredentialSet {
	out := in
	out.Profile = strings.TrimSpace(in.Profile)
	out.TokenType = strings.TrimSpace(in.TokenType)
	out.AccessToken = strings.TrimSpace(in.AccessToken)
	out.RefreshToken = strings.TrimSpace(in.RefreshToken)
	out.ExpiresAt = cloneTimePointer(in.ExpiresAt)
	out.Subject = copyAnyMap(in.Subject)
	out.Metadata = copyAnyMap(in.Metadata)
	return out
}

// TokenGrant is the outcome of one refresh-token exchange.
type TokenGrant struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Subject      map[string]any
	Metadata     map[string]any
}

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRotated CredentialStatus = "rotated"
	CredentialStatusRevoked CredentialStatus = "revoked"
)

// CredentialRecord is the persisted, versioned shape of a credential set.
// Stores keep the full version history; at most one record per profile is
// active at a time.
type CredentialRecord struct {
	ID           string
	Profile      string
	Version      int
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Subject      map[string]any
	Metadata     map[string]any
	Status       CredentialStatus
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *CredentialRecord) TransitionTo(status CredentialStatus, reason string, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			r.StatusReason = strings.TrimSpace(reason)
		}
		return nil
	}
	if !credentialTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		r.StatusReason = strings.TrimSpace(reason)
	}
	return nil
}

func credentialTransitionAllowed(current, next CredentialStatus) bool {
	allowed := map[CredentialStatus]map[CredentialStatus]struct{}{
		CredentialStatusActive: {
			CredentialStatusRotated: {},
			CredentialStatusRevoked: {},
		},
		CredentialStatusRotated: {
			CredentialStatusRevoked: {},
		},
		CredentialStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type SessionEndReason string

const (
	SessionEndReasonRefreshFailed SessionEndReason = "refresh_failed"
	SessionEndReasonUnauthorized  SessionEndReason = "unauthorized"
	SessionEndReasonLogout        SessionEndReason = "logout"
)

// SessionEndedEvent is broadcast once per terminal authentication failure.
// ReturnTo carries the navigation context of the request that triggered the
// failure so callers can route back after re-authentication.
type SessionEndedEvent struct {
	Profile    string
	Reason     SessionEndReason
	ReturnTo   string
	OccurredAt time.Time
	Err        error
	Metadata   map[string]any
}

// SessionEvent is the persisted audit shape of a session transition.
type SessionEvent struct {
	ID         string
	Profile    string
	Kind       string
	Reason     string
	ReturnTo   string
	Detail     string
	Metadata   map[string]any
	OccurredAt time.Time
	CreatedAt  time.Time
}

const (
	SessionEventKindStarted   = "session_started"
	SessionEventKindRefreshed = "session_refreshed"
	SessionEventKindEnded     = "session_ended"
)

// TokenState is the expiry-proximity snapshot the pipeline and keep-fresh
// runner consult before deciding whether a refresh is warranted.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	CanAutoRefresh  bool
	IsExpired       bool
	IsExpiringSoon  bool
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
