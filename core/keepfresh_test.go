package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func newKeepFreshRunner(t *testing.T, lifecycle *TokenLifecycle, exchanger RefreshExchanger, options ...KeepFreshOption) (*KeepFreshRunner, *MemorySessionEventStore) {
	t.Helper()
	events := NewMemorySessionEventStore()
	coordinator, err := NewCoordinator(lifecycle, exchanger, WithCoordinatorEventStore(events))
	if err != nil {
		t.Fatalf("expected coordinator to build, got %v", err)
	}
	base := []KeepFreshOption{
		WithKeepFreshBackoff(ExponentialBackoffScheduler{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
	}
	runner, err := NewKeepFreshRunner(lifecycle, coordinator, KeepFreshConfig{Interval: time.Minute}, append(base, options...)...)
	if err != nil {
		t.Fatalf("expected runner to build, got %v", err)
	}
	return runner, events
}

func expiringLifecycle(t *testing.T, now time.Time) (*TokenLifecycle, *KeyValueCredentialStore) {
	t.Helper()
	lifecycle, store := newTestLifecycle(t,
		WithLifecycleClock(func() time.Time { return now }),
		WithLifecycleWindow(5*time.Minute),
	)
	expiresAt := now.Add(2 * time.Minute)
	seedCredential(t, store, CredentialSet{
		Profile:      DefaultProfile,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	})
	return lifecycle, store
}

func TestKeepFreshSkipsWhenNothingToDo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		seed *CredentialSet
	}{
		{name: "unauthenticated", seed: nil},
		{
			name: "token still fresh",
			seed: &CredentialSet{
				Profile:      DefaultProfile,
				AccessToken:  "at-1",
				RefreshToken: "rt-1",
				ExpiresAt:    timeRef(now.Add(time.Hour)),
			},
		},
		{
			name: "expiring but no refresh token",
			seed: &CredentialSet{
				Profile:     DefaultProfile,
				AccessToken: "at-1",
				ExpiresAt:   timeRef(now.Add(2 * time.Minute)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle, store := newTestLifecycle(t,
				WithLifecycleClock(func() time.Time { return now }),
				WithLifecycleWindow(5*time.Minute),
			)
			if tt.seed != nil {
				seedCredential(t, store, *tt.seed)
			}
			exchanger := &scriptedExchanger{}
			runner, _ := newKeepFreshRunner(t, lifecycle, exchanger)

			if err := runner.RunOnce(context.Background()); err != nil {
				t.Fatalf("expected cycle to no-op, got %v", err)
			}
			if exchanger.calls() != 0 {
				t.Fatalf("expected no exchange, got %d", exchanger.calls())
			}
		})
	}
}

func TestKeepFreshRefreshesExpiringCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lifecycle, store := expiringLifecycle(t, now)

	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{
		AccessToken:  "at-2",
		RefreshToken: "rt-2",
		ExpiresAt:    timeRef(now.Add(time.Hour)),
	}})
	runner, _ := newKeepFreshRunner(t, lifecycle, exchanger)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected refresh cycle to succeed, got %v", err)
	}
	if exchanger.calls() != 1 {
		t.Fatalf("expected one exchange, got %d", exchanger.calls())
	}

	current, err := store.Load(context.Background(), DefaultProfile)
	if err != nil || current == nil {
		t.Fatalf("expected rotated credential, got %v", err)
	}
	if current.AccessToken != "at-2" || current.RefreshToken != "rt-2" {
		t.Fatalf("expected the new pair, got %#v", current)
	}
}

func TestKeepFreshEnqueuesWhenQueueConfigured(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lifecycle, _ := expiringLifecycle(t, now)

	enqueuer := &capturingEnqueuer{}
	runner, err := NewKeepFreshRunner(lifecycle, nil, KeepFreshConfig{Interval: time.Minute},
		WithKeepFreshEnqueuer(enqueuer),
	)
	if err != nil {
		t.Fatalf("expected runner to build, got %v", err)
	}

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected enqueue cycle to succeed, got %v", err)
	}

	messages := enqueuer.list()
	if len(messages) != 1 {
		t.Fatalf("expected one queued job, got %d", len(messages))
	}
	msg := messages[0]
	if msg.JobID != KeepFreshJobID {
		t.Fatalf("expected keep-fresh job id, got %q", msg.JobID)
	}
	if msg.Profile != DefaultProfile {
		t.Fatalf("expected default profile, got %q", msg.Profile)
	}
	expiresAt := now.Add(2 * time.Minute)
	expected := fmt.Sprintf("%s:%s:%d", KeepFreshJobID, DefaultProfile, expiresAt.Unix())
	if msg.IdempotencyKey != expected {
		t.Fatalf("expected idempotency key %q, got %q", expected, msg.IdempotencyKey)
	}
}

func TestKeepFreshRetriesTransientFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inner, err := NewKeyValueCredentialStore(NewMemoryKeyValueStore())
	if err != nil {
		t.Fatalf("expected credential store to build, got %v", err)
	}
	expiresAt := now.Add(2 * time.Minute)
	seedCredential(t, inner, CredentialSet{
		Profile:      DefaultProfile,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	})
	// First load feeds the state check; the second, inside the refresh
	// flight, fails once before the store recovers.
	faulty := &faultyCredentialStore{inner: inner, loadErrs: []error{nil, stderrors.New("kv briefly offline")}}
	lifecycle, err := NewTokenLifecycle(faulty, DefaultProfile,
		WithLifecycleClock(func() time.Time { return now }),
		WithLifecycleWindow(5*time.Minute),
	)
	if err != nil {
		t.Fatalf("expected lifecycle to build, got %v", err)
	}

	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2", RefreshToken: "rt-2"}})
	runner, events := newKeepFreshRunner(t, lifecycle, exchanger)

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if exchanger.calls() != 1 {
		t.Fatalf("expected one successful exchange, got %d", exchanger.calls())
	}
	if got := endedEvents(t, events); len(got) != 0 {
		t.Fatalf("expected no teardown for a transient failure, got %#v", got)
	}
}

func TestKeepFreshStopsOnRejectedRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lifecycle, store := expiringLifecycle(t, now)

	rejection := goerrors.New("auth: refresh token was rejected", goerrors.CategoryAuth).
		WithTextCode(ClientErrorRefreshRejected)
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{err: rejection})
	runner, events := newKeepFreshRunner(t, lifecycle, exchanger, WithKeepFreshMaxAttempts(3))

	err := runner.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected rejection to surface")
	}
	if exchanger.calls() != 1 {
		t.Fatalf("expected no retries after a rejection, got %d", exchanger.calls())
	}

	current, loadErr := store.Load(context.Background(), DefaultProfile)
	if loadErr != nil {
		t.Fatalf("expected load to succeed, got %v", loadErr)
	}
	if current != nil {
		t.Fatalf("expected credentials to be cleared, got %#v", current)
	}
	if got := endedEvents(t, events); len(got) != 1 {
		t.Fatalf("expected one ended event, got %d", len(got))
	}
}

func TestKeepFreshGivesUpAfterMaxAttempts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inner, err := NewKeyValueCredentialStore(NewMemoryKeyValueStore())
	if err != nil {
		t.Fatalf("expected credential store to build, got %v", err)
	}
	expiresAt := now.Add(2 * time.Minute)
	seedCredential(t, inner, CredentialSet{
		Profile:      DefaultProfile,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	})
	outage := stderrors.New("kv offline")
	faulty := &faultyCredentialStore{inner: inner, loadErrs: []error{nil, outage, outage, outage}}
	lifecycle, err := NewTokenLifecycle(faulty, DefaultProfile,
		WithLifecycleClock(func() time.Time { return now }),
		WithLifecycleWindow(5*time.Minute),
	)
	if err != nil {
		t.Fatalf("expected lifecycle to build, got %v", err)
	}

	exchanger := &scriptedExchanger{}
	runner, _ := newKeepFreshRunner(t, lifecycle, exchanger, WithKeepFreshMaxAttempts(3))

	err = runner.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected the cycle to give up")
	}
	if isUnrecoverableRefreshError(err) {
		t.Fatalf("expected a transient error after exhausting attempts, got %v", err)
	}
	if exchanger.calls() != 0 {
		t.Fatalf("expected the exchanger to never run, got %d", exchanger.calls())
	}
}

func TestKeepFreshRunStopsWithContext(t *testing.T) {
	lifecycle, _ := newTestLifecycle(t)
	exchanger := &scriptedExchanger{}
	coordinator, err := NewCoordinator(lifecycle, exchanger)
	if err != nil {
		t.Fatalf("expected coordinator to build, got %v", err)
	}
	runner, err := NewKeepFreshRunner(lifecycle, coordinator, KeepFreshConfig{Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("expected runner to build, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := runner.Run(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestKeepFreshRunStopsOnUnrecoverableFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lifecycle, _ := expiringLifecycle(t, now)

	rejection := goerrors.New("auth: refresh token was rejected", goerrors.CategoryAuth).
		WithTextCode(ClientErrorRefreshRejected)
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{err: rejection})
	coordinator, err := NewCoordinator(lifecycle, exchanger)
	if err != nil {
		t.Fatalf("expected coordinator to build, got %v", err)
	}
	runner, err := NewKeepFreshRunner(lifecycle, coordinator, KeepFreshConfig{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("expected runner to build, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = runner.Run(ctx)
	if err == nil || stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the rejection to stop the runner, got %v", err)
	}
	if !isUnrecoverableRefreshError(err) {
		t.Fatalf("expected an unrecoverable error, got %v", err)
	}
}

func TestNewKeepFreshRunnerValidation(t *testing.T) {
	lifecycle, _ := newTestLifecycle(t)

	if _, err := NewKeepFreshRunner(nil, nil, KeepFreshConfig{}); err == nil {
		t.Fatalf("expected nil lifecycle to be rejected")
	}
	if _, err := NewKeepFreshRunner(lifecycle, nil, KeepFreshConfig{}); err == nil {
		t.Fatalf("expected a runner without coordinator or enqueuer to be rejected")
	}
	if _, err := NewKeepFreshRunner(lifecycle, nil, KeepFreshConfig{}, WithKeepFreshEnqueuer(&capturingEnqueuer{})); err != nil {
		t.Fatalf("expected enqueuer-only runner to build, got %v", err)
	}
}

func TestExponentialBackoffSchedulerDoubles(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{Initial: 5 * time.Second, Max: 5 * time.Minute}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: 5 * time.Second},
		{attempt: 1, expected: 5 * time.Second},
		{attempt: 2, expected: 10 * time.Second},
		{attempt: 3, expected: 20 * time.Second},
		{attempt: 10, expected: 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := scheduler.NextDelay(tt.attempt); got != tt.expected {
			t.Fatalf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}

	zero := ExponentialBackoffScheduler{}
	if got := zero.NextDelay(1); got != defaultKeepFreshInitialBackoff {
		t.Fatalf("expected default initial backoff, got %v", got)
	}
}

func TestKeepFreshIdempotencyKey(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	withExpiry := keepFreshIdempotencyKey(DefaultProfile, &expiresAt)
	expected := fmt.Sprintf("%s:%s:%d", KeepFreshJobID, DefaultProfile, expiresAt.Unix())
	if withExpiry != expected {
		t.Fatalf("expected %q, got %q", expected, withExpiry)
	}

	withoutExpiry := keepFreshIdempotencyKey(DefaultProfile, nil)
	if withoutExpiry != KeepFreshJobID+":"+DefaultProfile {
		t.Fatalf("expected profile-scoped key, got %q", withoutExpiry)
	}
}

func TestIsUnrecoverableRefreshError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		unrecoverable bool
	}{
		{name: "nil", err: nil, unrecoverable: false},
		{
			name:          "auth category",
			err:           goerrors.New("rejected", goerrors.CategoryAuth),
			unrecoverable: true,
		},
		{
			name:          "external endpoint failure is retryable",
			err:           goerrors.New("upstream 503", goerrors.CategoryExternal).WithTextCode(ClientErrorRefreshFailed),
			unrecoverable: false,
		},
		{
			name:          "session ended text code",
			err:           goerrors.New("session gone", goerrors.CategoryExternal).WithTextCode(ClientErrorSessionEnded),
			unrecoverable: true,
		},
		{
			name:          "missing credential sentinel",
			err:           fmt.Errorf("load: %w", ErrNoCredential),
			unrecoverable: true,
		},
		{
			name:          "oauth invalid_grant message",
			err:           stderrors.New(`refresh failed: {"error":"invalid_grant"}`),
			unrecoverable: true,
		},
		{
			name:          "plain transient failure",
			err:           stderrors.New("connection reset by peer"),
			unrecoverable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUnrecoverableRefreshError(tt.err); got != tt.unrecoverable {
				t.Fatalf("expected %v, got %v", tt.unrecoverable, got)
			}
		})
	}
}
