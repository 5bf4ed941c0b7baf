package devkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-authclient/core"
)

type RefreshScript struct {
	Grant core.TokenGrant
	Err   error
}

// ScriptedRefreshExchanger serves scripted grants in call order and records
// every refresh token it is asked to exchange. After the scripts run out it
// repeats the last one; with no scripts at all every call fails.
type ScriptedRefreshExchanger struct {
	mu      sync.Mutex
	scripts []RefreshScript
	calls   []string
}

func NewScriptedRefreshExchanger(scripts ...RefreshScript) *ScriptedRefreshExchanger {
	return &ScriptedRefreshExchanger{
		scripts: append([]RefreshScript(nil), scripts...),
	}
}

func (e *ScriptedRefreshExchanger) Exchange(_ context.Context, refreshToken string) (core.TokenGrant, error) {
	if e == nil {
		return core.TokenGrant{}, fmt.Errorf("devkit: scripted refresh exchanger is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, refreshToken)
	index := len(e.calls) - 1
	if index < len(e.scripts) {
		script := e.scripts[index]
		return cloneTokenGrant(script.Grant), script.Err
	}
	if len(e.scripts) > 0 {
		last := e.scripts[len(e.scripts)-1]
		return cloneTokenGrant(last.Grant), last.Err
	}
	return core.TokenGrant{}, fmt.Errorf("devkit: no refresh script for call %d", index+1)
}

// Calls returns the refresh tokens seen so far, in call order.
func (e *ScriptedRefreshExchanger) Calls() []string {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.calls...)
}

func (e *ScriptedRefreshExchanger) CallCount() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

func cloneTokenGrant(in core.TokenGrant) core.TokenGrant {
	out := core.TokenGrant{
		TokenType:    in.TokenType,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
	}
	if in.ExpiresAt != nil {
		expires := *in.ExpiresAt
		out.ExpiresAt = &expires
	}
	if in.Subject != nil {
		out.Subject = make(map[string]any, len(in.Subject))
		for key, value := range in.Subject {
			out.Subject[key] = value
		}
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for key, value := range in.Metadata {
			out.Metadata[key] = value
		}
	}
	return out
}

// GrantExpiringIn builds a bearer grant whose expiry sits the given distance
// from now. Handy for scripting refresh flows in tests.
func GrantExpiringIn(accessToken, refreshToken string, ttl time.Duration) core.TokenGrant {
	expires := time.Now().UTC().Add(ttl)
	return core.TokenGrant{
		TokenType:    "Bearer",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    &expires,
	}
}

var _ core.RefreshExchanger = (*ScriptedRefreshExchanger)(nil)
