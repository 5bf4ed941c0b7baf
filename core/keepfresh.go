package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	// KeepFreshJobID names the queued refresh job when keep-fresh hands
	// work to a job queue instead of refreshing inline.
	KeepFreshJobID = "authclient.keepfresh"

	defaultKeepFreshMaxAttempts    = 3
	defaultKeepFreshInitialBackoff = 5 * time.Second
	defaultKeepFreshMaxBackoff     = 5 * time.Minute
)

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultKeepFreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultKeepFreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// KeepFreshRunner refreshes the credential ahead of expiry on an interval.
// Retryable failures back off and try again; an unrecoverable refresh
// failure stops the runner, since only interactive re-auth can fix it.
type KeepFreshRunner struct {
	lifecycle   *TokenLifecycle
	coordinator *Coordinator
	config      KeepFreshConfig
	logger      Logger
	metrics     MetricsRecorder
	enqueuer    JobEnqueuer
	backoff     RefreshBackoffScheduler
	maxAttempts int
	now         func() time.Time
}

type KeepFreshOption func(*KeepFreshRunner)

func WithKeepFreshLogger(logger Logger) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		if logger != nil {
			runner.logger = logger
		}
	}
}

func WithKeepFreshMetrics(metrics MetricsRecorder) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		if metrics != nil {
			runner.metrics = metrics
		}
	}
}

// WithKeepFreshEnqueuer routes due refreshes to a job queue instead of
// refreshing inline. A queue worker then drives the coordinator.
func WithKeepFreshEnqueuer(enqueuer JobEnqueuer) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		runner.enqueuer = enqueuer
	}
}

func WithKeepFreshBackoff(scheduler RefreshBackoffScheduler) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		if scheduler != nil {
			runner.backoff = scheduler
		}
	}
}

func WithKeepFreshMaxAttempts(attempts int) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		if attempts > 0 {
			runner.maxAttempts = attempts
		}
	}
}

func WithKeepFreshClock(now func() time.Time) KeepFreshOption {
	return func(runner *KeepFreshRunner) {
		if now != nil {
			runner.now = now
		}
	}
}

func NewKeepFreshRunner(lifecycle *TokenLifecycle, coordinator *Coordinator, config KeepFreshConfig, options ...KeepFreshOption) (*KeepFreshRunner, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("core: token lifecycle is required")
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultKeepFreshInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultKeepFreshMaxBackoff
	}

	runner := &KeepFreshRunner{
		lifecycle:   lifecycle,
		coordinator: coordinator,
		config:      config,
		logger:      glog.Nop(),
		metrics:     NopMetricsRecorder{},
		maxAttempts: defaultKeepFreshMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(runner)
		}
	}
	if runner.backoff == nil {
		runner.backoff = ExponentialBackoffScheduler{
			Initial: config.InitialBackoff,
			Max:     config.MaxBackoff,
		}
	}
	if runner.coordinator == nil && runner.enqueuer == nil {
		return nil, fmt.Errorf("core: keep fresh requires a coordinator or a job enqueuer")
	}
	return runner, nil
}

// Run blocks until the context ends or the refresh fails unrecoverably.
func (r *KeepFreshRunner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("core: keep fresh runner is required")
	}
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				if isUnrecoverableRefreshError(err) {
					return err
				}
				r.logger.Error("keep fresh cycle failed, retrying next interval",
					"profile", r.lifecycle.Profile(),
					"error", err.Error(),
				)
			}
		}
	}
}

// RunOnce performs a single keep-fresh cycle. Fresh or unauthenticated
// sessions are a no-op.
func (r *KeepFreshRunner) RunOnce(ctx context.Context) (err error) {
	if r == nil {
		return fmt.Errorf("core: keep fresh runner is required")
	}
	startedAt := r.now()
	fields := map[string]any{"profile": r.lifecycle.Profile()}
	defer func() {
		observeOperation(ctx, r.logger, r.metrics, startedAt, "keep_fresh", err, fields)
	}()

	state, stateErr := r.lifecycle.State(ctx)
	if stateErr != nil {
		err = stateErr
		return err
	}
	if !state.HasAccessToken {
		fields["outcome"] = "skipped_unauthenticated"
		return nil
	}
	if !state.IsExpired && !state.IsExpiringSoon {
		fields["outcome"] = "skipped_fresh"
		return nil
	}
	if !state.CanAutoRefresh {
		fields["outcome"] = "skipped_no_refresh_token"
		return nil
	}

	if r.enqueuer != nil {
		fields["outcome"] = "enqueued"
		err = r.enqueuer.Enqueue(ctx, &JobExecutionMessage{
			JobID:          KeepFreshJobID,
			Profile:        r.lifecycle.Profile(),
			IdempotencyKey: keepFreshIdempotencyKey(r.lifecycle.Profile(), state.ExpiresAt),
		})
		return err
	}

	fields["outcome"] = "refreshed"
	err = r.refreshWithRetry(ctx, fields)
	return err
}

func (r *KeepFreshRunner) refreshWithRetry(ctx context.Context, fields map[string]any) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		fields["attempts"] = attempt
		if _, err := r.coordinator.Refresh(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			if isUnrecoverableRefreshError(err) || attempt == r.maxAttempts {
				return err
			}
		}
		if waitErr := waitWithContext(ctx, r.backoff.NextDelay(attempt)); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

// keepFreshIdempotencyKey dedupes queued refreshes for the same expiry.
func keepFreshIdempotencyKey(profile string, expiresAt *time.Time) string {
	if expiresAt == nil {
		return KeepFreshJobID + ":" + profile
	}
	return fmt.Sprintf("%s:%s:%d", KeepFreshJobID, profile, expiresAt.UTC().Unix())
}

// isUnrecoverableRefreshError reports whether retrying the refresh can
// ever succeed. Rejected or revoked grants need interactive re-auth.
func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case ClientErrorSessionEnded, ClientErrorRefreshRejected, ClientErrorNoRefreshToken:
			return true
		}
	}
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrNoRefreshToken) {
		return true
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "refresh token was rejected")
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
