// Package auth provides the wire-level token exchange used when a session's
// access token has to be renewed. The exchanger speaks the JSON refresh
// protocol; deciding when to refresh belongs to core.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-authclient/classify"
	"github.com/goliatone/go-authclient/core"
	"github.com/goliatone/go-authclient/transport"
)

type RefreshTokenExchangerConfig struct {
	RefreshURL string
	Headers    map[string]string
	Timeout    time.Duration
	Now        func() time.Time
}

// RefreshTokenExchanger trades a refresh token for a new access token by
// posting `{"refreshToken": ...}` to the configured endpoint. A 400, 401, or
// 403 means the server rejected the token itself; every other error status is
// an endpoint failure.
type RefreshTokenExchanger struct {
	config    RefreshTokenExchangerConfig
	transport core.TransportAdapter
}

func NewRefreshTokenExchanger(cfg RefreshTokenExchangerConfig, adapter core.TransportAdapter) *RefreshTokenExchanger {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &RefreshTokenExchanger{
		config: RefreshTokenExchangerConfig{
			RefreshURL: strings.TrimSpace(cfg.RefreshURL),
			Headers:    cloneHeaders(cfg.Headers),
			Timeout:    cfg.Timeout,
			Now:        now,
		},
		transport: adapter,
	}
}

type refreshTokenRequestPayload struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshTokenResponsePayload struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	TokenType    string         `json:"tokenType"`
	ExpiresAt    string         `json:"expiresAt"`
	ExpiresIn    int64          `json:"expiresIn"`
	User         map[string]any `json:"user"`
}

func (e *RefreshTokenExchanger) Exchange(ctx context.Context, refreshToken string) (core.TokenGrant, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return core.TokenGrant{}, goerrors.New("auth: refresh token is required", goerrors.CategoryBadInput).
			WithTextCode(core.ClientErrorBadInput)
	}
	if e.config.RefreshURL == "" {
		return core.TokenGrant{}, goerrors.New("auth: refresh endpoint URL is required", goerrors.CategoryBadInput).
			WithTextCode(core.ClientErrorBadInput)
	}

	body, err := json.Marshal(refreshTokenRequestPayload{RefreshToken: token})
	if err != nil {
		return core.TokenGrant{}, goerrors.Wrap(err, goerrors.CategoryInternal, "auth: encode refresh request").
			WithTextCode(core.ClientErrorInternal)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for key, value := range e.config.Headers {
		headers[key] = value
	}

	resp, err := e.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     e.config.RefreshURL,
		Headers: headers,
		Body:    body,
		Timeout: e.config.Timeout,
	})
	if err != nil {
		return core.TokenGrant{}, goerrors.Wrap(err, goerrors.CategoryExternal, "auth: refresh endpoint request failed").
			WithTextCode(core.ClientErrorRefreshFailed)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return core.TokenGrant{}, refreshFailure(resp.StatusCode, resp.Headers, resp.Body)
	}

	var payload refreshTokenResponsePayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return core.TokenGrant{}, goerrors.Wrap(err, goerrors.CategoryExternal, "auth: decode refresh response").
			WithTextCode(core.ClientErrorRefreshFailed).
			WithCode(resp.StatusCode)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenGrant{}, goerrors.New("auth: refresh response is missing an access token", goerrors.CategoryExternal).
			WithTextCode(core.ClientErrorRefreshFailed).
			WithCode(resp.StatusCode)
	}

	grant := core.TokenGrant{
		TokenType:    strings.TrimSpace(payload.TokenType),
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		ExpiresAt:    e.resolveExpiry(payload),
		Subject:      cloneSubject(payload.User),
	}
	if grant.TokenType == "" {
		grant.TokenType = core.TokenTypeBearer
	}
	return grant, nil
}

// resolveExpiry prefers an explicit expiresAt timestamp, falls back to
// expiresIn seconds, and otherwise returns nil so the lifecycle can derive
// the expiry from the token itself.
func (e *RefreshTokenExchanger) resolveExpiry(payload refreshTokenResponsePayload) *time.Time {
	if raw := strings.TrimSpace(payload.ExpiresAt); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			expiresAt := parsed.UTC()
			return &expiresAt
		}
	}
	if payload.ExpiresIn > 0 {
		expiresAt := e.config.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		return &expiresAt
	}
	return nil
}

func refreshFailure(status int, headers map[string]string, body []byte) error {
	parsed := classify.ParseBody(headers, body)
	message := strings.TrimSpace(parsed.Message)

	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		text := "auth: refresh token was rejected"
		if message != "" {
			text = fmt.Sprintf("auth: refresh token was rejected: %s", message)
		}
		err := goerrors.New(text, goerrors.CategoryAuth).
			WithTextCode(core.ClientErrorRefreshRejected).
			WithCode(status)
		if parsed.Code != "" {
			err.WithMetadata(map[string]any{"server_code": parsed.Code})
		}
		return err
	}

	text := fmt.Sprintf("auth: refresh endpoint returned status %d", status)
	if message != "" {
		text = fmt.Sprintf("auth: refresh endpoint returned status %d: %s", status, message)
	}
	return goerrors.New(text, goerrors.CategoryExternal).
		WithTextCode(core.ClientErrorRefreshFailed).
		WithCode(status)
}

var _ core.RefreshExchanger = (*RefreshTokenExchanger)(nil)
