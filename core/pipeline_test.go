package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-authclient/classify"
)

type pipelineFixture struct {
	client    *Client
	transport *fakeTransport
	events    *MemorySessionEventStore
}

func newPipelineFixture(t *testing.T, cfg Config, transport *fakeTransport, options ...Option) *pipelineFixture {
	t.Helper()
	events := NewMemorySessionEventStore()
	base := []Option{
		WithTransportAdapter(transport),
		WithSessionEventStore(events),
	}
	client, err := NewClient(cfg, append(base, options...)...)
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}
	return &pipelineFixture{client: client, transport: transport, events: events}
}

func (f *pipelineFixture) seed(t *testing.T, req StartSessionRequest) CredentialSet {
	t.Helper()
	stored, err := f.client.StartSession(context.Background(), req)
	if err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	return stored
}

func eventsByKind(t *testing.T, events *MemorySessionEventStore, kind string) []SessionEvent {
	t.Helper()
	listed, _, err := events.ListByProfile(context.Background(), DefaultProfile, 50, 0)
	if err != nil {
		t.Fatalf("expected event listing to succeed, got %v", err)
	}
	matched := []SessionEvent{}
	for _, event := range listed {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func classified(t *testing.T, err error) *classify.ClassifiedError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a classified error")
	}
	verdict, ok := classify.FromError(err)
	if !ok {
		t.Fatalf("expected classified error, got %T: %v", err, err)
	}
	return verdict
}

func TestSendSignsRequestWithStoredCredential(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"ok":true}`),
	}}}
	fixture := newPipelineFixture(t, Config{}, transport)
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1"})

	resp, err := fixture.client.Send(context.Background(), Request{Method: "get", URL: "/api/projects"})
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Fatalf("expected body to pass through, got %q", resp.Body)
	}

	sent, ok := transport.request(0)
	if !ok {
		t.Fatalf("expected one dispatched request")
	}
	if sent.Method != http.MethodGet {
		t.Fatalf("expected normalized method, got %q", sent.Method)
	}
	if sent.Headers["Authorization"] != "Bearer at-1" {
		t.Fatalf("expected signed request, got %#v", sent.Headers)
	}
	if sent.Timeout != DefaultConfig().RequestTimeout {
		t.Fatalf("expected default timeout, got %v", sent.Timeout)
	}
}

func TestSendResolvesRelativeURLs(t *testing.T) {
	transport := &fakeTransport{}
	fixture := newPipelineFixture(t, Config{BaseURL: "https://api.example/"}, transport)

	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{name: "leading slash", rawURL: "/projects/9", expected: "https://api.example/projects/9"},
		{name: "bare path", rawURL: "projects/9", expected: "https://api.example/projects/9"},
		{name: "absolute passes through", rawURL: "https://other.example/x", expected: "https://other.example/x"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fixture.client.Get(context.Background(), tt.rawURL); err != nil {
				t.Fatalf("expected send to succeed, got %v", err)
			}
			sent, ok := transport.request(i)
			if !ok {
				t.Fatalf("expected request %d to dispatch", i)
			}
			if sent.URL != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, sent.URL)
			}
		})
	}
}

func TestSendWithoutCredentialStaysBare(t *testing.T) {
	transport := &fakeTransport{}
	fixture := newPipelineFixture(t, Config{}, transport)

	if _, err := fixture.client.Get(context.Background(), "/public/health"); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	sent, _ := transport.request(0)
	if _, found := sent.Headers["Authorization"]; found {
		t.Fatalf("expected no authorization header, got %#v", sent.Headers)
	}
}

func TestSendRetriesOnceAfterRefreshOnUnauthorized(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{
		{StatusCode: http.StatusUnauthorized},
		{StatusCode: http.StatusOK, Body: []byte(`{"projects":[]}`)},
	}}
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2", RefreshToken: "rt-2"}})
	fixture := newPipelineFixture(t, Config{}, transport, WithRefreshExchanger(exchanger))
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1", RefreshToken: "rt-1"})

	resp, err := fixture.client.Get(context.Background(), "/api/projects")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected exactly two dispatches, got %d", transport.callCount())
	}
	if exchanger.calls() != 1 {
		t.Fatalf("expected exactly one exchange, got %d", exchanger.calls())
	}

	retry, _ := transport.request(1)
	if retry.Headers["Authorization"] != "Bearer at-2" {
		t.Fatalf("expected the retry to carry the refreshed token, got %#v", retry.Headers)
	}
	if got := endedEvents(t, fixture.events); len(got) != 0 {
		t.Fatalf("expected no session teardown, got %#v", got)
	}
	if got := eventsByKind(t, fixture.events, SessionEventKindRefreshed); len(got) != 1 {
		t.Fatalf("expected one refreshed event, got %d", len(got))
	}
}

func TestSendSecondUnauthorizedEndsSessionOnce(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{
		{StatusCode: http.StatusUnauthorized},
		{StatusCode: http.StatusUnauthorized},
	}}
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2"}})
	fixture := newPipelineFixture(t, Config{}, transport, WithRefreshExchanger(exchanger))
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1", RefreshToken: "rt-1"})

	fired := 0
	fixture.client.OnSessionEnded(func(context.Context, SessionEndedEvent) { fired++ })

	_, err := fixture.client.Get(context.Background(), "/api/projects")
	verdict := classified(t, err)
	if verdict.Category != classify.CategoryAuth || !verdict.Flags.IsAuthError {
		t.Fatalf("expected auth classification, got %#v", verdict)
	}
	if verdict.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", verdict.Status)
	}

	current, loadErr := fixture.client.ActiveCredential(context.Background())
	if loadErr != nil {
		t.Fatalf("expected credential load to succeed, got %v", loadErr)
	}
	if current != nil {
		t.Fatalf("expected credentials to be cleared, got %#v", current)
	}
	if fired != 1 {
		t.Fatalf("expected one session-ended signal, got %d", fired)
	}
	ended := endedEvents(t, fixture.events)
	if len(ended) != 1 {
		t.Fatalf("expected one ended event, got %d", len(ended))
	}
	if ended[0].Reason != string(SessionEndReasonUnauthorized) {
		t.Fatalf("expected unauthorized reason, got %q", ended[0].Reason)
	}
}

func TestSendUnauthorizedWithoutCredentialPassesThrough(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{{StatusCode: http.StatusUnauthorized}}}
	exchanger := &scriptedExchanger{}
	fixture := newPipelineFixture(t, Config{}, transport, WithRefreshExchanger(exchanger))

	_, err := fixture.client.Get(context.Background(), "/api/projects")
	verdict := classified(t, err)
	if verdict.Category != classify.CategoryAuth {
		t.Fatalf("expected auth classification, got %q", verdict.Category)
	}
	if transport.callCount() != 1 {
		t.Fatalf("expected no retry for an unauthenticated attempt, got %d", transport.callCount())
	}
	if exchanger.calls() != 0 {
		t.Fatalf("expected no refresh for an unauthenticated attempt, got %d", exchanger.calls())
	}
	if got := endedEvents(t, fixture.events); len(got) != 0 {
		t.Fatalf("expected no session teardown, got %#v", got)
	}
}

func TestSendRefreshesProactivelyBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(2 * time.Minute)

	transport := &fakeTransport{}
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2", RefreshToken: "rt-2"}})
	fixture := newPipelineFixture(t, Config{}, transport,
		WithRefreshExchanger(exchanger),
		WithClock(func() time.Time { return now }),
	)
	fixture.seed(t, StartSessionRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	})

	if _, err := fixture.client.Get(context.Background(), "/api/projects"); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if exchanger.calls() != 1 {
		t.Fatalf("expected one proactive exchange, got %d", exchanger.calls())
	}
	if transport.callCount() != 1 {
		t.Fatalf("expected one dispatch, got %d", transport.callCount())
	}
	sent, _ := transport.request(0)
	if sent.Headers["Authorization"] != "Bearer at-2" {
		t.Fatalf("expected the refreshed token on the wire, got %#v", sent.Headers)
	}
}

func TestSendProactiveRefreshFailureNeverDispatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(2 * time.Minute)

	transport := &fakeTransport{}
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{err: goerrors.New(
		"auth: refresh token was rejected",
		goerrors.CategoryAuth,
	).WithTextCode(ClientErrorRefreshRejected)})
	fixture := newPipelineFixture(t, Config{}, transport,
		WithRefreshExchanger(exchanger),
		WithClock(func() time.Time { return now }),
	)
	fixture.seed(t, StartSessionRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiresAt,
	})

	_, err := fixture.client.Get(context.Background(), "/projects/9")
	verdict := classified(t, err)
	if !verdict.Flags.IsAuthError {
		t.Fatalf("expected auth classification, got %#v", verdict)
	}
	if transport.callCount() != 0 {
		t.Fatalf("expected the request to never dispatch, got %d", transport.callCount())
	}

	ended := endedEvents(t, fixture.events)
	if len(ended) != 1 {
		t.Fatalf("expected one ended event, got %d", len(ended))
	}
	if ended[0].Reason != string(SessionEndReasonRefreshFailed) {
		t.Fatalf("expected refresh_failed reason, got %q", ended[0].Reason)
	}
	if ended[0].ReturnTo != "/projects/9" {
		t.Fatalf("expected return-to from the request path, got %q", ended[0].ReturnTo)
	}
}

func TestSendClassifiesServerFailures(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{{
		StatusCode: http.StatusInternalServerError,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"message":"db down"}`),
	}}}
	fixture := newPipelineFixture(t, Config{}, transport)
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1"})

	_, err := fixture.client.Get(context.Background(), "/api/projects")
	verdict := classified(t, err)
	if verdict.Category != classify.CategoryServer {
		t.Fatalf("expected server classification, got %q", verdict.Category)
	}
	if !verdict.Flags.IsRetryable || verdict.Type != classify.TypeRetryable {
		t.Fatalf("expected retryable verdict, got %#v", verdict)
	}
	if verdict.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", verdict.Status)
	}
}

func TestSendClassifiesValidationFailures(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{{
		StatusCode: http.StatusUnprocessableEntity,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"message":"Validation failed","errors":{"email":"is required"}}`),
	}}}
	fixture := newPipelineFixture(t, Config{}, transport)
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1"})

	_, err := fixture.client.Post(context.Background(), "/api/projects", []byte(`{}`))
	verdict := classified(t, err)
	if verdict.Category != classify.CategoryValidation || !verdict.Flags.IsValidationError {
		t.Fatalf("expected validation classification, got %#v", verdict)
	}
	if verdict.FieldErrors["email"] != "is required" {
		t.Fatalf("expected field errors, got %#v", verdict.FieldErrors)
	}
	if verdict.Type != classify.TypeNonRetryable {
		t.Fatalf("expected non-retryable verdict, got %q", verdict.Type)
	}
}

func TestSendClassifiesTransportFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category classify.Category
	}{
		{
			name:     "connection refused",
			err:      &url.Error{Op: "Get", URL: "https://api.example", Err: stderrors.New("connection refused")},
			category: classify.CategoryNetwork,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			category: classify.CategoryTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{errs: []error{tt.err}}
			fixture := newPipelineFixture(t, Config{}, transport)
			fixture.seed(t, StartSessionRequest{AccessToken: "at-1"})

			_, err := fixture.client.Get(context.Background(), "/api/projects")
			verdict := classified(t, err)
			if verdict.Category != tt.category {
				t.Fatalf("expected %q classification, got %q", tt.category, verdict.Category)
			}
			if !verdict.Flags.IsRetryable {
				t.Fatalf("expected retryable verdict, got %#v", verdict)
			}
			if transport.callCount() != 1 {
				t.Fatalf("expected no retry on transport failure, got %d", transport.callCount())
			}
		})
	}
}

func TestSendRequiresConfiguredTransport(t *testing.T) {
	events := NewMemorySessionEventStore()
	client, err := NewClient(Config{}, WithSessionEventStore(events))
	if err != nil {
		t.Fatalf("expected client to build, got %v", err)
	}

	_, err = client.Get(context.Background(), "/api/projects")
	verdict := classified(t, err)
	if verdict.Type != classify.TypeSystem {
		t.Fatalf("expected system verdict for missing transport, got %#v", verdict)
	}
}

func TestSendHonorsExplicitReturnTo(t *testing.T) {
	transport := &fakeTransport{responses: []TransportResponse{
		{StatusCode: http.StatusUnauthorized},
		{StatusCode: http.StatusUnauthorized},
	}}
	exchanger := &scriptedExchanger{}
	exchanger.script(exchangeOutcome{grant: TokenGrant{AccessToken: "at-2"}})
	fixture := newPipelineFixture(t, Config{}, transport, WithRefreshExchanger(exchanger))
	fixture.seed(t, StartSessionRequest{AccessToken: "at-1", RefreshToken: "rt-1"})

	_, err := fixture.client.Send(context.Background(), Request{
		Method:   http.MethodGet,
		URL:      "/api/projects",
		ReturnTo: "/dashboard",
	})
	if err == nil {
		t.Fatalf("expected the second 401 to fail the request")
	}

	ended := endedEvents(t, fixture.events)
	if len(ended) != 1 {
		t.Fatalf("expected one ended event, got %d", len(ended))
	}
	if ended[0].ReturnTo != "/dashboard" {
		t.Fatalf("expected explicit return-to to win, got %q", ended[0].ReturnTo)
	}
}
