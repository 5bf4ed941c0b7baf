package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type logEntry struct {
	level   string
	message string
	args    []any
}

// recordingLogger captures log lines so tests can assert on levels,
// messages, and structured fields.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, message string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: message, args: append([]any(nil), args...)})
}

func (l *recordingLogger) Trace(message string, args ...any) { l.record("trace", message, args) }
func (l *recordingLogger) Debug(message string, args ...any) { l.record("debug", message, args) }
func (l *recordingLogger) Info(message string, args ...any)  { l.record("info", message, args) }
func (l *recordingLogger) Warn(message string, args ...any)  { l.record("warn", message, args) }
func (l *recordingLogger) Error(message string, args ...any) { l.record("error", message, args) }
func (l *recordingLogger) Fatal(message string, args ...any) { l.record("fatal", message, args) }
func (l *recordingLogger) WithContext(context.Context) Logger {
	return l
}

func (l *recordingLogger) find(level, substring string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.level == level && strings.Contains(entry.message, substring) {
			return entry, true
		}
	}
	return logEntry{}, false
}

func (entry logEntry) argValue(key string) (any, bool) {
	for i := 0; i+1 < len(entry.args); i += 2 {
		if name, ok := entry.args[i].(string); ok && name == key {
			return entry.args[i+1], true
		}
	}
	return nil, false
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	encoded := base64.StdEncoding.EncodeToString(plaintext)
	return []byte("enc:" + encoded), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if value == "" || !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("test secret provider: decode ciphertext: %w", err)
	}
	return decoded, nil
}

type exchangeOutcome struct {
	grant TokenGrant
	err   error
}

// scriptedExchanger plays back queued exchange outcomes; the final outcome
// sticks so retry loops can keep consuming it. An optional gate holds every
// exchange open until the test releases it.
type scriptedExchanger struct {
	gate chan struct{}

	mu       sync.Mutex
	outcomes []exchangeOutcome
	seen     []string
}

func (e *scriptedExchanger) script(outcomes ...exchangeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, outcomes...)
}

func (e *scriptedExchanger) Exchange(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, refreshToken)
	if len(e.outcomes) == 0 {
		return TokenGrant{}, fmt.Errorf("scripted exchanger: no outcome scripted")
	}
	outcome := e.outcomes[0]
	if len(e.outcomes) > 1 {
		e.outcomes = e.outcomes[1:]
	}
	return outcome.grant, outcome.err
}

func (e *scriptedExchanger) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func (e *scriptedExchanger) lastSeen() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.seen) == 0 {
		return ""
	}
	return e.seen[len(e.seen)-1]
}

// faultyCredentialStore wraps a real store and injects one queued failure
// per Load call; a nil entry passes through.
type faultyCredentialStore struct {
	inner CredentialStore

	mu       sync.Mutex
	loadErrs []error
	clearErr error
	clears   int
}

func (s *faultyCredentialStore) Load(ctx context.Context, profile string) (*CredentialSet, error) {
	s.mu.Lock()
	var err error
	if len(s.loadErrs) > 0 {
		err = s.loadErrs[0]
		s.loadErrs = s.loadErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Load(ctx, profile)
}

func (s *faultyCredentialStore) Store(ctx context.Context, set CredentialSet) (CredentialSet, error) {
	return s.inner.Store(ctx, set)
}

func (s *faultyCredentialStore) Clear(ctx context.Context, profile string) error {
	s.mu.Lock()
	s.clears++
	err := s.clearErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Clear(ctx, profile)
}

func (s *faultyCredentialStore) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

type metricPoint struct {
	name  string
	value float64
	tags  map[string]string
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters []metricPoint
	samples  []metricPoint
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, metricPoint{name: name, value: float64(value), tags: tags})
}

func (m *recordingMetrics) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, metricPoint{name: name, value: value, tags: tags})
}

func (m *recordingMetrics) counter(name string) (metricPoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, point := range m.counters {
		if point.name == name {
			return point, true
		}
	}
	return metricPoint{}, false
}

func (m *recordingMetrics) sample(name string) (metricPoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, point := range m.samples {
		if point.name == name {
			return point, true
		}
	}
	return metricPoint{}, false
}

// fakeTransport answers each request from a positional script of responses
// and errors; the final response sticks when the script runs out.
type fakeTransport struct {
	mu        sync.Mutex
	requests  []TransportRequest
	responses []TransportResponse
	errs      []error
}

func (t *fakeTransport) Kind() string { return "fake" }

func (t *fakeTransport) Do(_ context.Context, req TransportRequest) (TransportResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index := len(t.requests)
	t.requests = append(t.requests, req)
	if index < len(t.errs) && t.errs[index] != nil {
		return TransportResponse{}, t.errs[index]
	}
	if index < len(t.responses) {
		return t.responses[index], nil
	}
	if len(t.responses) > 0 {
		return t.responses[len(t.responses)-1], nil
	}
	return TransportResponse{StatusCode: 200, Headers: map[string]string{}}, nil
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *fakeTransport) request(index int) (TransportRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.requests) {
		return TransportRequest{}, false
	}
	return t.requests[index], true
}

type sessionEventCapture struct {
	mu     sync.Mutex
	events []SessionEndedEvent
}

func (c *sessionEventCapture) listener() SessionListener {
	return func(_ context.Context, event SessionEndedEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, event)
	}
}

func (c *sessionEventCapture) list() []SessionEndedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SessionEndedEvent(nil), c.events...)
}

type capturingEnqueuer struct {
	mu       sync.Mutex
	messages []JobExecutionMessage
	err      error
}

func (e *capturingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if msg != nil {
		e.messages = append(e.messages, *msg)
	}
	return nil
}

func (e *capturingEnqueuer) list() []JobExecutionMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]JobExecutionMessage(nil), e.messages...)
}

// testJWT builds a signed token carrying an exp claim; expiry derivation
// never verifies the signature, so the key is arbitrary.
func testJWT(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "usr_1",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("expected test token to sign, got %v", err)
	}
	return signed
}

// testJWTWithoutExpiry builds a signed token with no exp claim.
func testJWTWithoutExpiry(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "usr_1"})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("expected test token to sign, got %v", err)
	}
	return signed
}

func newTestLifecycle(t *testing.T, options ...TokenLifecycleOption) (*TokenLifecycle, *KeyValueCredentialStore) {
	t.Helper()
	store, err := NewKeyValueCredentialStore(NewMemoryKeyValueStore())
	if err != nil {
		t.Fatalf("expected credential store to build, got %v", err)
	}
	lifecycle, err := NewTokenLifecycle(store, DefaultProfile, options...)
	if err != nil {
		t.Fatalf("expected lifecycle to build, got %v", err)
	}
	return lifecycle, store
}

func seedCredential(t *testing.T, store CredentialStore, set CredentialSet) CredentialSet {
	t.Helper()
	stored, err := store.Store(context.Background(), set)
	if err != nil {
		t.Fatalf("expected credential seed to store, got %v", err)
	}
	return stored
}
