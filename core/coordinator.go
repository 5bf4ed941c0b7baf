package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Coordinator serializes refresh-token exchanges for one profile. Concurrent
// callers join the in-flight exchange and share its outcome; a new exchange
// can only start after the previous one settled. A failed exchange tears the
// session down exactly once for the whole batch.
type Coordinator struct {
	lifecycle *TokenLifecycle
	exchanger RefreshExchanger
	hooks     *SessionHooks
	events    SessionEventStore
	logger    Logger
	metrics   MetricsRecorder
	now       func() time.Time

	// group deduplicates concurrent exchanges; keyed by profile so one
	// coordinator instance could in principle serve several lifecycles.
	group singleflight.Group
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCoordinatorMetrics(metrics MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func WithCoordinatorEventStore(events SessionEventStore) CoordinatorOption {
	return func(c *Coordinator) {
		c.events = events
	}
}

func WithCoordinatorHooks(hooks *SessionHooks) CoordinatorOption {
	return func(c *Coordinator) {
		if hooks != nil {
			c.hooks = hooks
		}
	}
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(lifecycle *TokenLifecycle, exchanger RefreshExchanger, options ...CoordinatorOption) (*Coordinator, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("core: token lifecycle is required")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("core: refresh exchanger is required")
	}
	coordinator := &Coordinator{
		lifecycle: lifecycle,
		exchanger: exchanger,
		logger:    glog.Nop(),
		metrics:   NopMetricsRecorder{},
		now:       time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(coordinator)
		}
	}
	if coordinator.hooks == nil {
		coordinator.hooks = NewSessionHooks(coordinator.logger)
	}
	return coordinator, nil
}

func (c *Coordinator) Hooks() *SessionHooks {
	if c == nil {
		return nil
	}
	return c.hooks
}

// Refresh performs (or joins) the exchange for the coordinator's profile and
// returns the resulting access token. Every caller of the same flight
// receives the same outcome. The exchange runs under the initiating caller's
// context; joined waiters block until it settles.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: refresh coordinator is nil")
	}
	startedAt := c.now()
	value, err, shared := c.group.Do(c.lifecycle.Profile(), func() (any, error) {
		return c.exchange(ctx)
	})
	observeOperation(ctx, c.logger, c.metrics, startedAt, "refresh", err, map[string]any{
		"profile": c.lifecycle.Profile(),
		"shared":  shared,
	})
	if err != nil {
		return "", err
	}
	token, _ := value.(string)
	return token, nil
}

func (c *Coordinator) exchange(ctx context.Context) (string, error) {
	set, err := c.lifecycle.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("core: credential load failed: %w", err)
	}
	if set == nil {
		return "", ErrNoCredential
	}
	if !set.HasRefreshToken() {
		return "", ErrNoRefreshToken
	}

	grant, err := c.exchanger.Exchange(ctx, set.RefreshToken)
	if err != nil {
		c.endSession(ctx, SessionEndReasonRefreshFailed, err)
		return "", err
	}
	if grant.AccessToken == "" {
		err := goerrors.New("refresh exchange returned no access token", goerrors.CategoryAuth).
			WithTextCode(ClientErrorRefreshFailed)
		c.endSession(ctx, SessionEndReasonRefreshFailed, err)
		return "", err
	}

	next := CredentialSet{
		Profile:      set.Profile,
		TokenType:    grant.TokenType,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    cloneTimePointer(grant.ExpiresAt),
		Subject:      copyAnyMap(grant.Subject),
		Metadata:     copyAnyMap(grant.Metadata),
		Version:      set.Version,
	}
	// Endpoints that do not rotate the refresh token omit it; keep the old one.
	if next.RefreshToken == "" {
		next.RefreshToken = set.RefreshToken
	}
	if len(grant.Subject) == 0 {
		next.Subject = copyAnyMap(set.Subject)
	}

	stored, err := c.lifecycle.Store(ctx, next)
	if err != nil {
		err = fmt.Errorf("core: refreshed credential store failed: %w", err)
		c.endSession(ctx, SessionEndReasonRefreshFailed, err)
		return "", err
	}

	c.appendAuditEvent(ctx, SessionEvent{
		Profile:    stored.Profile,
		Kind:       SessionEventKindRefreshed,
		OccurredAt: c.now().UTC(),
	})
	return stored.AccessToken, nil
}

// endSession runs inside the singleflight flight, so a failed exchange
// clears credentials and notifies listeners exactly once no matter how many
// callers were waiting.
func (c *Coordinator) endSession(ctx context.Context, reason SessionEndReason, cause error) {
	terminateSession(ctx, c.lifecycle, c.events, c.hooks, c.logger, SessionEndedEvent{
		Profile:    c.lifecycle.Profile(),
		Reason:     reason,
		OccurredAt: c.now().UTC(),
		Err:        cause,
	})
}

func (c *Coordinator) appendAuditEvent(ctx context.Context, event SessionEvent) {
	if c.events == nil {
		return
	}
	if _, err := c.events.Append(ctx, event); err != nil {
		logWithLevel(ctx, c.logger, "error", "session event append failed", map[string]any{
			"profile": event.Profile,
			"kind":    event.Kind,
			"error":   err.Error(),
		})
	}
}
