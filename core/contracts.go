package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Request describes one outbound call through the client pipeline. The
// zero value of retried marks a fresh descriptor; the pipeline flips it
// exactly once, so no request is ever re-issued twice.
type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	ReturnTo             string

	retried bool
}

func (r Request) Retried() bool {
	return r.retried
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// CredentialStore persists at most one active credential set per profile.
// Load returns (nil, nil) when the profile has no credential; callers treat
// that as the unauthenticated state, not a failure.
type CredentialStore interface {
	Load(ctx context.Context, profile string) (*CredentialSet, error)
	Store(ctx context.Context, set CredentialSet) (CredentialSet, error)
	Clear(ctx context.Context, profile string) error
}

type SessionEventStore interface {
	Append(ctx context.Context, event SessionEvent) (SessionEvent, error)
	ListByProfile(ctx context.Context, profile string, limit, offset int) ([]SessionEvent, int, error)
}

type StoreProvider interface {
	CredentialStore() CredentialStore
	SessionEventStore() SessionEventStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// RefreshExchanger trades a refresh token for a new grant against the
// authentication endpoint. Any non-success status is an error.
type RefreshExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// TransportAdapter executes a wire request. Every received HTTP status,
// including failures, comes back as a TransportResponse; errors are
// reserved for transport-level trouble (dial, TLS, timeout, cancellation).
type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type Signer interface {
	Sign(ctx context.Context, req *Request, cred CredentialSet) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// SessionListener observes session termination. Listeners run in
// registration order on the goroutine that detected the failure.
type SessionListener func(ctx context.Context, event SessionEndedEvent)

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

type JobExecutionMessage struct {
	JobID          string
	Profile        string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// CloneRequest deep-copies a request descriptor, retry marker included.
func CloneRequest(in Request) Request {
	out := in
	out.Headers = copyStringMap(in.Headers)
	out.Query = copyStringMap(in.Query)
	out.Metadata = copyAnyMap(in.Metadata)
	if in.Body != nil {
		out.Body = append([]byte(nil), in.Body...)
	}
	return out
}
