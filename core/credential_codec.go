package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatLegacyToken = "legacy_token"
	CredentialPayloadFormatJSONV1      = "credential_set_json"
	CredentialPayloadVersionV1         = 1
)

// CredentialCodec translates a credential set to and from a stored payload.
// Key/value stores persist whatever bytes the codec emits; swapping codecs
// changes the wire format without touching the store.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(set CredentialSet) ([]byte, error)
	Decode(payload []byte) (CredentialSet, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	Profile      string         `json:"profile,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Subject      map[string]any `json:"subject,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Version      int            `json:"version,omitempty"`
}

func (JSONCredentialCodec) Encode(set CredentialSet) ([]byte, error) {
	payload := jsonCredentialPayload{
		Profile:      strings.TrimSpace(set.Profile),
		TokenType:    strings.TrimSpace(set.TokenType),
		AccessToken:  strings.TrimSpace(set.AccessToken),
		RefreshToken: strings.TrimSpace(set.RefreshToken),
		ExpiresAt:    cloneTimePointer(set.ExpiresAt),
		Subject:      copyAnyMap(set.Subject),
		Metadata:     copyAnyMap(set.Metadata),
		Version:      set.Version,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (CredentialSet, error) {
	if len(payload) == 0 {
		return CredentialSet{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return CredentialSet{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return CredentialSet{
		Profile:      strings.TrimSpace(decoded.Profile),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
		Subject:      copyAnyMap(decoded.Subject),
		Metadata:     copyAnyMap(decoded.Metadata),
		Version:      decoded.Version,
	}, nil
}

// LegacyTokenCredentialCodec reads and writes a bare access token string,
// the format plain token files used before structured payloads.
type LegacyTokenCredentialCodec struct{}

func (LegacyTokenCredentialCodec) Format() string {
	return CredentialPayloadFormatLegacyToken
}

func (LegacyTokenCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

func (LegacyTokenCredentialCodec) Encode(set CredentialSet) ([]byte, error) {
	token := strings.TrimSpace(set.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("core: legacy credential payload requires an access token")
	}
	return []byte(token), nil
}

func (LegacyTokenCredentialCodec) Decode(payload []byte) (CredentialSet, error) {
	token := strings.TrimSpace(string(payload))
	if token == "" {
		return CredentialSet{}, fmt.Errorf("core: legacy credential payload is empty")
	}
	return CredentialSet{
		TokenType:   TokenTypeBearer,
		AccessToken: token,
	}, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
