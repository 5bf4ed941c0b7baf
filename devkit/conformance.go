package devkit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-authclient/core"
)

func ValidateTransportAdapterConformance(
	ctx context.Context,
	adapter core.TransportAdapter,
	request core.TransportRequest,
) error {
	if adapter == nil {
		return fmt.Errorf("devkit: transport adapter is required")
	}
	if strings.TrimSpace(adapter.Kind()) == "" {
		return fmt.Errorf("devkit: transport adapter kind is required")
	}
	_, err := adapter.Do(ctx, request)
	return err
}

// CredentialStoreConformance runs the behavioral suite every CredentialStore
// implementation must pass. The factory returns a fresh, empty store per
// subtest so state never bleeds between checks. Stores that do not version
// credentials skip the monotonicity subtest.
func CredentialStoreConformance(t *testing.T, factory func() core.CredentialStore) {
	t.Helper()
	if factory == nil {
		t.Fatalf("credential store factory is required")
	}
	ctx := context.Background()

	t.Run("store and load round trip", func(t *testing.T) {
		store := factory()

		absent, err := store.Load(ctx, "default")
		if err != nil {
			t.Fatalf("load absent profile: %v", err)
		}
		if absent != nil {
			t.Fatalf("expected nil credential for empty store, got %+v", absent)
		}

		expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
		stored, err := store.Store(ctx, core.CredentialSet{
			Profile:      "default",
			TokenType:    "Bearer",
			AccessToken:  "access_round_trip",
			RefreshToken: "refresh_round_trip",
			ExpiresAt:    &expires,
			Subject:      map[string]any{"sub": "user_42"},
		})
		if err != nil {
			t.Fatalf("store credential: %v", err)
		}
		if stored.AccessToken != "access_round_trip" {
			t.Fatalf("expected stored access token to round trip, got %q", stored.AccessToken)
		}

		loaded, err := store.Load(ctx, "default")
		if err != nil {
			t.Fatalf("load stored profile: %v", err)
		}
		if loaded == nil {
			t.Fatalf("expected credential after store")
		}
		if loaded.AccessToken != "access_round_trip" || loaded.RefreshToken != "refresh_round_trip" {
			t.Fatalf("expected tokens to round trip, got access %q refresh %q", loaded.AccessToken, loaded.RefreshToken)
		}
		if loaded.TokenType != "Bearer" {
			t.Fatalf("expected token type to round trip, got %q", loaded.TokenType)
		}
		if loaded.ExpiresAt == nil || loaded.ExpiresAt.Unix() != expires.Unix() {
			t.Fatalf("expected expiry to round trip, got %v", loaded.ExpiresAt)
		}
		if subject, _ := loaded.Subject["sub"].(string); subject != "user_42" {
			t.Fatalf("expected subject to round trip, got %v", loaded.Subject)
		}
	})

	t.Run("clear removes credential", func(t *testing.T) {
		store := factory()

		if _, err := store.Store(ctx, core.CredentialSet{
			Profile:     "default",
			TokenType:   "Bearer",
			AccessToken: "access_clear",
		}); err != nil {
			t.Fatalf("store credential: %v", err)
		}
		if err := store.Clear(ctx, "default"); err != nil {
			t.Fatalf("clear profile: %v", err)
		}
		loaded, err := store.Load(ctx, "default")
		if err != nil {
			t.Fatalf("load cleared profile: %v", err)
		}
		if loaded != nil {
			t.Fatalf("expected nil credential after clear, got %+v", loaded)
		}
		if err := store.Clear(ctx, "default"); err != nil {
			t.Fatalf("expected clearing an empty profile to succeed, got %v", err)
		}
	})

	t.Run("profile isolation", func(t *testing.T) {
		store := factory()

		for _, profile := range []string{"alpha", "beta"} {
			if _, err := store.Store(ctx, core.CredentialSet{
				Profile:     profile,
				TokenType:   "Bearer",
				AccessToken: "access_" + profile,
			}); err != nil {
				t.Fatalf("store %s credential: %v", profile, err)
			}
		}

		beta, err := store.Load(ctx, "beta")
		if err != nil {
			t.Fatalf("load beta profile: %v", err)
		}
		if beta == nil || beta.AccessToken != "access_beta" {
			t.Fatalf("expected beta credential, got %+v", beta)
		}

		if err := store.Clear(ctx, "alpha"); err != nil {
			t.Fatalf("clear alpha profile: %v", err)
		}
		alpha, err := store.Load(ctx, "alpha")
		if err != nil {
			t.Fatalf("load cleared alpha profile: %v", err)
		}
		if alpha != nil {
			t.Fatalf("expected alpha credential cleared, got %+v", alpha)
		}
		beta, err = store.Load(ctx, "beta")
		if err != nil {
			t.Fatalf("reload beta profile: %v", err)
		}
		if beta == nil || beta.AccessToken != "access_beta" {
			t.Fatalf("expected beta credential to survive alpha clear, got %+v", beta)
		}
	})

	t.Run("version monotonicity where supported", func(t *testing.T) {
		store := factory()

		first, err := store.Store(ctx, core.CredentialSet{
			Profile:     "default",
			TokenType:   "Bearer",
			AccessToken: "access_v1",
		})
		if err != nil {
			t.Fatalf("store first credential: %v", err)
		}
		if first.Version == 0 {
			t.Skip("store does not version credentials")
		}

		second, err := store.Store(ctx, core.CredentialSet{
			Profile:     "default",
			TokenType:   "Bearer",
			AccessToken: "access_v2",
		})
		if err != nil {
			t.Fatalf("store second credential: %v", err)
		}
		if second.Version <= first.Version {
			t.Fatalf("expected version to grow, got %d then %d", first.Version, second.Version)
		}

		loaded, err := store.Load(ctx, "default")
		if err != nil {
			t.Fatalf("load versioned profile: %v", err)
		}
		if loaded == nil || loaded.Version != second.Version {
			t.Fatalf("expected load to report version %d, got %+v", second.Version, loaded)
		}
	})
}
