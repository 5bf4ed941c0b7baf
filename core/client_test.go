package core

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type staticStoreProvider struct {
	credentials CredentialStore
	events      SessionEventStore
}

func (p staticStoreProvider) CredentialStore() CredentialStore     { return p.credentials }
func (p staticStoreProvider) SessionEventStore() SessionEventStore { return p.events }

type staticStoreFactory struct {
	provider StoreProvider
	err      error
}

func (f staticStoreFactory) BuildStores(any) (StoreProvider, error) { return f.provider, f.err }

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	cfg := client.Config()
	if cfg.ClientName != "authclient" {
		t.Fatalf("expected default client name, got %q", cfg.ClientName)
	}
	if cfg.Profile != DefaultProfile {
		t.Fatalf("expected default profile, got %q", cfg.Profile)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected default request timeout, got %v", cfg.RequestTimeout)
	}

	deps := client.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.CredentialStore == nil {
		t.Fatalf("expected default credential store")
	}
	if _, ok := deps.CredentialCodec.(JSONCredentialCodec); !ok {
		t.Fatalf("expected json codec default, got %T", deps.CredentialCodec)
	}
	if _, ok := deps.Signer.(BearerTokenSigner); !ok {
		t.Fatalf("expected bearer signer default, got %T", deps.Signer)
	}
	if deps.Coordinator != nil {
		t.Fatalf("expected no coordinator without an exchanger")
	}
	if deps.Lifecycle == nil {
		t.Fatalf("expected lifecycle to be wired")
	}
}

func TestNewClientRuntimeConfigWins(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"profile":  "batch",
		"base_url": "https://config.example",
	}})

	client, err := NewClient(Config{Profile: "runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}
	if client.Profile() != "runtime" {
		t.Fatalf("expected runtime profile to win, got %q", client.Profile())
	}
	if client.Config().BaseURL != "https://config.example" {
		t.Fatalf("expected config layer base url, got %q", client.Config().BaseURL)
	}
}

func TestNewClientBuildsStoresThroughFactory(t *testing.T) {
	credentials, err := NewKeyValueCredentialStore(NewMemoryKeyValueStore())
	if err != nil {
		t.Fatalf("expected credential store to build, got %v", err)
	}
	events := NewMemorySessionEventStore()

	client, err := NewClient(Config{},
		WithPersistenceClient(struct{}{}),
		WithRepositoryFactory(staticStoreFactory{provider: staticStoreProvider{
			credentials: credentials,
			events:      events,
		}}),
	)
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	deps := client.Dependencies()
	if deps.CredentialStore != CredentialStore(credentials) {
		t.Fatalf("expected factory-built credential store, got %T", deps.CredentialStore)
	}
	if deps.SessionEventStore != SessionEventStore(events) {
		t.Fatalf("expected factory-built event store, got %T", deps.SessionEventStore)
	}
}

func TestStartSessionStoresCredential(t *testing.T) {
	events := NewMemorySessionEventStore()
	client, err := NewClient(Config{}, WithSessionEventStore(events))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	stored, err := client.StartSession(context.Background(), StartSessionRequest{
		AccessToken:  testJWT(t, expiresAt),
		RefreshToken: "rt-1",
		Subject:      map[string]any{"id": "usr_1"},
	})
	if err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	if stored.Profile != DefaultProfile {
		t.Fatalf("expected default profile, got %q", stored.Profile)
	}
	if stored.TokenType != TokenTypeBearer {
		t.Fatalf("expected bearer token type default, got %q", stored.TokenType)
	}
	if stored.ExpiresAt == nil || stored.ExpiresAt.Unix() != expiresAt.Unix() {
		t.Fatalf("expected expiry derived from the token, got %v", stored.ExpiresAt)
	}
	if stored.Version != 1 {
		t.Fatalf("expected first version, got %d", stored.Version)
	}

	started := eventsByKind(t, events, SessionEventKindStarted)
	if len(started) != 1 {
		t.Fatalf("expected one started event, got %d", len(started))
	}
}

func TestStartSessionRequiresAccessToken(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	_, err = client.StartSession(context.Background(), StartSessionRequest{RefreshToken: "rt-1"})
	if err == nil {
		t.Fatalf("expected missing access token to be rejected")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error envelope, got %T", err)
	}
	if richErr.TextCode != ClientErrorBadInput {
		t.Fatalf("expected bad input code, got %q", richErr.TextCode)
	}
}

func TestRefreshSessionRotatesCredential(t *testing.T) {
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2", RefreshToken: "rt-2"}})
	client, err := NewClient(Config{}, WithRefreshExchanger(exchanger))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}
	if _, err := client.StartSession(context.Background(), StartSessionRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
	}); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	refreshed, err := client.RefreshSession(context.Background())
	if err != nil {
		t.Fatalf("expected refresh to succeed, got %v", err)
	}
	if refreshed.AccessToken != "at-2" || refreshed.RefreshToken != "rt-2" {
		t.Fatalf("expected rotated pair, got %#v", refreshed)
	}
	if refreshed.Version != 2 {
		t.Fatalf("expected second version, got %d", refreshed.Version)
	}
}

func TestRefreshSessionRequiresExchanger(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	if _, err := client.RefreshSession(context.Background()); err == nil {
		t.Fatalf("expected refresh without an exchanger to fail")
	}
}

func TestEndSessionIsIdempotentWhenUnauthenticated(t *testing.T) {
	events := NewMemorySessionEventStore()
	client, err := NewClient(Config{}, WithSessionEventStore(events))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	fired := 0
	client.OnSessionEnded(func(context.Context, SessionEndedEvent) { fired++ })

	event, err := client.EndSession(context.Background(), SessionEndReasonLogout)
	if err != nil {
		t.Fatalf("expected no-op end to succeed, got %v", err)
	}
	if event.Profile != "" {
		t.Fatalf("expected zero event for an unauthenticated profile, got %#v", event)
	}
	if fired != 0 {
		t.Fatalf("expected no listener signal, got %d", fired)
	}
	if got := endedEvents(t, events); len(got) != 0 {
		t.Fatalf("expected no ended events, got %d", len(got))
	}
}

func TestEndSessionDefaultsReasonToLogout(t *testing.T) {
	events := NewMemorySessionEventStore()
	client, err := NewClient(Config{}, WithSessionEventStore(events))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}
	if _, err := client.StartSession(context.Background(), StartSessionRequest{AccessToken: "at-1"}); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	event, err := client.EndSession(context.Background(), "")
	if err != nil {
		t.Fatalf("expected end to succeed, got %v", err)
	}
	if event.Reason != SessionEndReasonLogout {
		t.Fatalf("expected logout default, got %q", event.Reason)
	}

	current, err := client.ActiveCredential(context.Background())
	if err != nil {
		t.Fatalf("expected credential load to succeed, got %v", err)
	}
	if current != nil {
		t.Fatalf("expected cleared credential, got %#v", current)
	}
	if got := endedEvents(t, events); len(got) != 1 {
		t.Fatalf("expected one ended event, got %d", len(got))
	}
}

func TestSessionStatusReflectsStoredCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(3 * time.Minute)
	client, err := NewClient(Config{}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	state, err := client.SessionStatus(context.Background())
	if err != nil {
		t.Fatalf("expected status to resolve, got %v", err)
	}
	if state.HasAccessToken || state.HasRefreshToken {
		t.Fatalf("expected unauthenticated zero state, got %#v", state)
	}

	if _, err := client.StartSession(context.Background(), StartSessionRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	}); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	state, err = client.SessionStatus(context.Background())
	if err != nil {
		t.Fatalf("expected status to resolve, got %v", err)
	}
	if !state.HasAccessToken || !state.HasRefreshToken || !state.CanAutoRefresh {
		t.Fatalf("expected authenticated refreshable state, got %#v", state)
	}
	if !state.IsExpiringSoon || state.IsExpired {
		t.Fatalf("expected expiring-soon state inside the window, got %#v", state)
	}
}

func TestSessionEventsListsAuditTrail(t *testing.T) {
	events := NewMemorySessionEventStore()
	client, err := NewClient(Config{}, WithSessionEventStore(events))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}
	if _, err := client.StartSession(context.Background(), StartSessionRequest{AccessToken: "at-1"}); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	if _, err := client.EndSession(context.Background(), SessionEndReasonLogout); err != nil {
		t.Fatalf("expected end to succeed, got %v", err)
	}

	listed, total, err := client.SessionEvents(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("expected listing to succeed, got %v", err)
	}
	if total != 2 || len(listed) != 2 {
		t.Fatalf("expected two audit events, got %d", total)
	}
	if listed[0].Kind != SessionEventKindEnded || listed[1].Kind != SessionEventKindStarted {
		t.Fatalf("expected newest-first ordering, got %q then %q", listed[0].Kind, listed[1].Kind)
	}
}

func TestSessionEventsWithoutStoreIsEmpty(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	listed, total, err := client.SessionEvents(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("expected listing to succeed, got %v", err)
	}
	if total != 0 || len(listed) != 0 {
		t.Fatalf("expected empty audit trail, got %d", total)
	}
}
