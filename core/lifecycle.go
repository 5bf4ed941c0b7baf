package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultExpiringSoonWindow = 5 * time.Minute
	DefaultRefreshLeadWindow  = 5 * time.Minute
)

// TokenLifecycle owns the credential record for one profile: reads, expiry
// arithmetic, wholesale replacement, and teardown. It never touches the
// network; refreshing is the coordinator's job.
type TokenLifecycle struct {
	store   CredentialStore
	profile string
	window  time.Duration
	logger  Logger
	now     func() time.Time
}

type TokenLifecycleOption func(*TokenLifecycle)

func WithLifecycleWindow(window time.Duration) TokenLifecycleOption {
	return func(l *TokenLifecycle) {
		if window > 0 {
			l.window = window
		}
	}
}

func WithLifecycleLogger(logger Logger) TokenLifecycleOption {
	return func(l *TokenLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLifecycleClock(now func() time.Time) TokenLifecycleOption {
	return func(l *TokenLifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

func NewTokenLifecycle(store CredentialStore, profile string, options ...TokenLifecycleOption) (*TokenLifecycle, error) {
	if store == nil {
		return nil, fmt.Errorf("core: credential store is required")
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = DefaultProfile
	}
	lifecycle := &TokenLifecycle{
		store:   store,
		profile: profile,
		window:  DefaultExpiringSoonWindow,
		logger:  glog.Nop(),
		now:     time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(lifecycle)
		}
	}
	return lifecycle, nil
}

func (l *TokenLifecycle) Profile() string {
	if l == nil {
		return ""
	}
	return l.profile
}

func (l *TokenLifecycle) Window() time.Duration {
	if l == nil {
		return DefaultExpiringSoonWindow
	}
	return l.window
}

// Current returns the stored credential set, or nil when the profile is
// unauthenticated.
func (l *TokenLifecycle) Current(ctx context.Context) (*CredentialSet, error) {
	if l == nil {
		return nil, fmt.Errorf("core: token lifecycle is nil")
	}
	return l.store.Load(ctx, l.profile)
}

func (l *TokenLifecycle) AccessToken(ctx context.Context) (string, bool, error) {
	set, err := l.Current(ctx)
	if err != nil {
		return "", false, err
	}
	if set == nil || !set.HasAccessToken() {
		return "", false, nil
	}
	return set.AccessToken, true, nil
}

// State resolves the expiry-proximity snapshot for the stored credential.
// An unauthenticated profile yields the zero state.
func (l *TokenLifecycle) State(ctx context.Context) (TokenState, error) {
	set, err := l.Current(ctx)
	if err != nil {
		return TokenState{}, err
	}
	if set == nil {
		return TokenState{}, nil
	}
	return ResolveTokenState(l.now(), *set, l.window), nil
}

// IsExpiringSoon reports whether now >= ExpiresAt - window. An already
// expired token counts as expiring soon.
func (l *TokenLifecycle) IsExpiringSoon(ctx context.Context) (bool, error) {
	state, err := l.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsExpired || state.IsExpiringSoon, nil
}

func (l *TokenLifecycle) IsExpired(ctx context.Context) (bool, error) {
	state, err := l.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsExpired, nil
}

// Store replaces the credential set wholesale. When the caller supplied no
// expiry, the access token's exp claim fills it in; a token that does not
// decode leaves the expiry nil so the reactive 401 path takes over.
func (l *TokenLifecycle) Store(ctx context.Context, set CredentialSet) (CredentialSet, error) {
	if l == nil {
		return CredentialSet{}, fmt.Errorf("core: token lifecycle is nil")
	}
	profile := strings.TrimSpace(set.Profile)
	if profile == "" {
		set.Profile = l.profile
	} else if profile != l.profile {
		return CredentialSet{}, fmt.Errorf("core: credential profile %q does not match lifecycle profile %q", profile, l.profile)
	}
	if strings.TrimSpace(set.TokenType) == "" {
		set.TokenType = TokenTypeBearer
	}
	if set.ExpiresAt == nil && set.HasAccessToken() {
		expiresAt, err := DeriveTokenExpiry(set.AccessToken)
		if err != nil {
			l.logger.Debug("access token expiry not derivable", "profile", l.profile, "error", err)
		} else if expiresAt != nil {
			set.ExpiresAt = expiresAt
		}
	}
	return l.store.Store(ctx, set)
}

func (l *TokenLifecycle) Clear(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("core: token lifecycle is nil")
	}
	return l.store.Clear(ctx, l.profile)
}

// ResolveTokenState evaluates expiry and refreshability flags for a
// credential set against the supplied clock.
func ResolveTokenState(now time.Time, set CredentialSet, expiringSoonWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultExpiringSoonWindow
	}

	state := TokenState{
		HasAccessToken:  set.HasAccessToken(),
		HasRefreshToken: set.HasRefreshToken(),
		CanAutoRefresh:  set.HasRefreshToken(),
	}
	if set.ExpiresAt == nil {
		return state
	}
	expiresAt := set.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return state
}

// ShouldRefresh reports whether a proactive refresh is warranted before the
// next send. Tokens without an expiry are left to the reactive 401 path.
func ShouldRefresh(now time.Time, state TokenState, refreshLeadWindow time.Duration) bool {
	if !state.CanAutoRefresh {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	if state.ExpiresAt == nil {
		return false
	}
	if refreshLeadWindow <= 0 {
		refreshLeadWindow = DefaultRefreshLeadWindow
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !state.ExpiresAt.UTC().After(now.Add(refreshLeadWindow))
}

// DeriveTokenExpiry reads the exp claim from a JWT access token. The
// signature is not verified; only the expiry is of interest here.
func DeriveTokenExpiry(token string) (*time.Time, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("core: access token is empty")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("core: access token decode failed: %w", err)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("core: access token exp claim invalid: %w", err)
	}
	if expiresAt == nil {
		return nil, nil
	}
	utc := expiresAt.Time.UTC()
	return &utc, nil
}
