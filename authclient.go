package authclient

import "github.com/goliatone/go-authclient/core"

type Config = core.Config

type KeepFreshConfig = core.KeepFreshConfig

type Option = core.Option

type Client = core.Client

type ClientDependencies = core.ClientDependencies
type CredentialStore = core.CredentialStore
type SessionEventStore = core.SessionEventStore
type KeyValueStore = core.KeyValueStore
type SecretProvider = core.SecretProvider
type TransportAdapter = core.TransportAdapter
type RefreshExchanger = core.RefreshExchanger
type CredentialCodec = core.CredentialCodec
type Signer = core.Signer

type CredentialSet = core.CredentialSet
type TokenState = core.TokenState
type SessionEvent = core.SessionEvent
type SessionEndReason = core.SessionEndReason
type SessionEndedEvent = core.SessionEndedEvent
type SessionListener = core.SessionListener

type StartSessionRequest = core.StartSessionRequest

type Request = core.Request

type Response = core.Response

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithSecretProvider    = core.WithSecretProvider
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithKeyValueStore     = core.WithKeyValueStore
	WithCredentialStore   = core.WithCredentialStore
	WithSessionEventStore = core.WithSessionEventStore
	WithCredentialCodec   = core.WithCredentialCodec
	WithRefreshExchanger  = core.WithRefreshExchanger
	WithTransportAdapter  = core.WithTransportAdapter
	WithSigner            = core.WithSigner
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	return core.NewClient(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Client, error) {
	return core.Setup(cfg, opts...)
}
