package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type returnToContextKey struct{}

// WithReturnTo stamps the navigation context a session-ended signal should
// carry if the session collapses during this call chain. The initiating
// caller's value wins; waiters joining an in-flight refresh do not override.
func WithReturnTo(ctx context.Context, returnTo string) context.Context {
	returnTo = strings.TrimSpace(returnTo)
	if returnTo == "" {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, returnToContextKey{}, returnTo)
}

func ReturnToFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(returnToContextKey{}).(string); ok {
		return value
	}
	return ""
}

// SessionHooks fans a session-ended signal out to listeners in registration
// order. A panicking listener is recovered and logged so it cannot take down
// the goroutine that detected the failure.
type SessionHooks struct {
	mu        sync.RWMutex
	listeners []SessionListener
	logger    Logger
}

func NewSessionHooks(logger Logger) *SessionHooks {
	return &SessionHooks{logger: glog.Ensure(logger)}
}

func (h *SessionHooks) Register(listener SessionListener) {
	if h == nil || listener == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, listener)
}

func (h *SessionHooks) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *SessionHooks) Emit(ctx context.Context, event SessionEndedEvent) {
	for _, listener := range h.snapshot() {
		if listener == nil {
			continue
		}
		h.emitOne(ctx, listener, event)
	}
}

func (h *SessionHooks) emitOne(ctx context.Context, listener SessionListener, event SessionEndedEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logWithLevel(ctx, h.logger, "error", "session listener panicked", map[string]any{
				"profile": event.Profile,
				"reason":  string(event.Reason),
				"panic":   fmt.Sprint(recovered),
			})
		}
	}()
	listener(ctx, event)
}

func (h *SessionHooks) snapshot() []SessionListener {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionListener, len(h.listeners))
	copy(out, h.listeners)
	return out
}

// terminateSession is the one path through which a session dies: clear the
// credential record, append the audit event, then notify listeners. Clearing
// happens before notification so a listener re-entering the client observes
// the unauthenticated state.
func terminateSession(
	ctx context.Context,
	lifecycle *TokenLifecycle,
	events SessionEventStore,
	hooks *SessionHooks,
	logger Logger,
	event SessionEndedEvent,
) SessionEndedEvent {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if strings.TrimSpace(event.Profile) == "" && lifecycle != nil {
		event.Profile = lifecycle.Profile()
	}
	if strings.TrimSpace(event.ReturnTo) == "" {
		event.ReturnTo = ReturnToFromContext(ctx)
	}

	if lifecycle != nil {
		if err := lifecycle.Clear(ctx); err != nil {
			logWithLevel(ctx, logger, "error", "credential clear failed during session end", map[string]any{
				"profile": event.Profile,
				"reason":  string(event.Reason),
				"error":   err.Error(),
			})
		}
	}

	if events != nil {
		record := SessionEvent{
			Profile:    event.Profile,
			Kind:       SessionEventKindEnded,
			Reason:     string(event.Reason),
			ReturnTo:   event.ReturnTo,
			Metadata:   RedactSensitiveMap(event.Metadata),
			OccurredAt: event.OccurredAt,
		}
		if event.Err != nil {
			record.Detail = event.Err.Error()
		}
		if _, err := events.Append(ctx, record); err != nil {
			logWithLevel(ctx, logger, "error", "session event append failed", map[string]any{
				"profile": event.Profile,
				"reason":  string(event.Reason),
				"error":   err.Error(),
			})
		}
	}

	hooks.Emit(ctx, event)
	return event
}
