package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authclient/core"
)

// RefreshExecutor performs one coordinated refresh for the worker's session.
// core.Client satisfies it.
type RefreshExecutor interface {
	RefreshSession(ctx context.Context) (core.CredentialSet, error)
}

type RefreshWorkerOption func(*RefreshWorker)

// WithWorkerHook wires lifecycle callbacks for observability.
func WithWorkerHook(hook core.JobWorkerHook) RefreshWorkerOption {
	return func(w *RefreshWorker) {
		w.hook = hook
	}
}

func WithWorkerClock(now func() time.Time) RefreshWorkerOption {
	return func(w *RefreshWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// RefreshWorker drains keep-fresh deliveries and drives the refresh
// coordinator for each one. Attempts are tracked per idempotency key so the
// retry policy can cap redelivery of the same expiry.
type RefreshWorker struct {
	dequeuer core.JobDequeuer
	executor RefreshExecutor
	policy   RetryPolicy
	hook     core.JobWorkerHook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRefreshWorker(dequeuer core.JobDequeuer, executor RefreshExecutor, policy RetryPolicy, opts ...RefreshWorkerOption) (*RefreshWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("gojob: refresh executor is required")
	}
	w := &RefreshWorker{
		dequeuer: dequeuer,
		executor: executor,
		policy:   policy,
		now:      time.Now,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run processes deliveries until the context ends or the queue fails.
// Refresh failures are reported through the nack and the hook, not the
// return value, so a flaky upstream does not stop the worker.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("gojob: refresh worker is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ProcessOne(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// ProcessOne handles a single delivery. Messages that are not keep-fresh
// jobs are dead-lettered without touching the session.
func (w *RefreshWorker) ProcessOne(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("gojob: refresh worker is required")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return fmt.Errorf("gojob: dequeue returned no delivery")
	}

	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "gojob: delivery carries no job id",
		})
	}
	if msg.JobID != core.KeepFreshJobID {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("gojob: unexpected job id %q", msg.JobID),
		})
	}

	attempt := w.bumpAttempt(attemptKey(msg))
	startedAt := w.now()
	w.emitStart(ctx, msg, attempt, startedAt)

	_, refreshErr := w.executor.RefreshSession(ctx)
	duration := w.now().Sub(startedAt)
	if refreshErr == nil {
		w.clearAttempt(attemptKey(msg))
		w.emitSuccess(ctx, msg, attempt, startedAt, duration)
		return delivery.Ack(ctx)
	}

	opts := w.policy.NormalizeAttempt(core.JobNackOptions{
		Requeue: true,
		Reason:  refreshErr.Error(),
	}, attempt)
	if opts.Requeue {
		w.emitRetry(ctx, msg, attempt, opts.Delay, refreshErr, startedAt, duration)
	} else {
		w.clearAttempt(attemptKey(msg))
		w.emitFailure(ctx, msg, attempt, refreshErr, startedAt, duration)
	}
	return delivery.Nack(ctx, opts)
}

func (w *RefreshWorker) bumpAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) clearAttempt(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return msg.JobID + ":" + msg.Profile
}

func (w *RefreshWorker) emitStart(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnStart(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		StartedAt: startedAt,
	})
}

func (w *RefreshWorker) emitSuccess(ctx context.Context, msg *core.JobExecutionMessage, attempt int, startedAt time.Time, duration time.Duration) {
	if w.hook == nil {
		return
	}
	w.hook.OnSuccess(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		StartedAt: startedAt,
		Duration:  duration,
	})
}

func (w *RefreshWorker) emitRetry(ctx context.Context, msg *core.JobExecutionMessage, attempt int, delay time.Duration, err error, startedAt time.Time, duration time.Duration) {
	if w.hook == nil {
		return
	}
	w.hook.OnRetry(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		Delay:     delay,
		Err:       err,
		StartedAt: startedAt,
		Duration:  duration,
	})
}

func (w *RefreshWorker) emitFailure(ctx context.Context, msg *core.JobExecutionMessage, attempt int, err error, startedAt time.Time, duration time.Duration) {
	if w.hook == nil {
		return
	}
	w.hook.OnFailure(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   attempt,
		Err:       err,
		StartedAt: startedAt,
		Duration:  duration,
	})
}
