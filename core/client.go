package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-authclient/classify"
)

// Client is the resilient authenticated HTTP client: it attaches the stored
// credential to outbound calls, refreshes an expiring credential pair exactly
// once under concurrent load, and classifies every request failure into the
// stable taxonomy before returning it.
type Client struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	secretProvider    SecretProvider
	credentialStore   CredentialStore
	sessionEventStore SessionEventStore
	credentialCodec   CredentialCodec
	lifecycle         *TokenLifecycle
	coordinator       *Coordinator
	exchanger         RefreshExchanger
	transport         TransportAdapter
	signer            Signer
	classifier        *classify.Classifier
	hooks             *SessionHooks
	now               func() time.Time
}

type ClientDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	SecretProvider    SecretProvider
	CredentialStore   CredentialStore
	SessionEventStore SessionEventStore
	CredentialCodec   CredentialCodec
	Lifecycle         *TokenLifecycle
	Coordinator       *Coordinator
	Exchanger         RefreshExchanger
	Transport         TransportAdapter
	Signer            Signer
	Hooks             *SessionHooks
}

func NewClient(cfg Config, options ...Option) (*Client, error) {
	builder := defaultClientBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("authclient", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("authclient"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	if builder.signer == nil {
		builder.signer = BearerTokenSigner{}
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.credentialStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.credentialStore = storeProvider.CredentialStore()
				if builder.sessionEventStore == nil {
					builder.sessionEventStore = storeProvider.SessionEventStore()
				}
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.credentialStore = storeProvider.CredentialStore()
			if builder.sessionEventStore == nil {
				builder.sessionEventStore = storeProvider.SessionEventStore()
			}
		}
	}
	if builder.credentialStore == nil {
		kv := builder.keyValueStore
		if kv == nil {
			kv = NewMemoryKeyValueStore()
		}
		store, storeErr := NewKeyValueCredentialStore(kv,
			WithKeyValueCodec(builder.credentialCodec),
			WithKeyValueSecretProvider(builder.secretProvider),
		)
		if storeErr != nil {
			return nil, mapBuildError(builder.errorMapper, storeErr)
		}
		builder.credentialStore = store
	}

	lifecycle, err := NewTokenLifecycle(builder.credentialStore, finalConfig.Profile,
		WithLifecycleWindow(finalConfig.ExpiringSoonWindow),
		WithLifecycleLogger(logger),
		WithLifecycleClock(builder.now),
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	hooks := NewSessionHooks(logger)

	// Without an exchanger the client is reactive-only: a 401 on an
	// authenticated attempt ends the session instead of refreshing.
	var coordinator *Coordinator
	if builder.exchanger != nil {
		coordinator, err = NewCoordinator(lifecycle, builder.exchanger,
			WithCoordinatorLogger(logger),
			WithCoordinatorMetrics(builder.metricsRecorder),
			WithCoordinatorEventStore(builder.sessionEventStore),
			WithCoordinatorHooks(hooks),
			WithCoordinatorClock(builder.now),
		)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	return &Client{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		secretProvider:    builder.secretProvider,
		credentialStore:   builder.credentialStore,
		sessionEventStore: builder.sessionEventStore,
		credentialCodec:   builder.credentialCodec,
		lifecycle:         lifecycle,
		coordinator:       coordinator,
		exchanger:         builder.exchanger,
		transport:         builder.transport,
		signer:            builder.signer,
		classifier:        classify.NewClassifier(),
		hooks:             hooks,
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Client, error) {
	return NewClient(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (c *Client) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.config
}

func (c *Client) Profile() string {
	if c == nil {
		return ""
	}
	return c.lifecycle.Profile()
}

func (c *Client) Lifecycle() *TokenLifecycle {
	if c == nil {
		return nil
	}
	return c.lifecycle
}

func (c *Client) Coordinator() *Coordinator {
	if c == nil {
		return nil
	}
	return c.coordinator
}

func (c *Client) Dependencies() ClientDependencies {
	if c == nil {
		return ClientDependencies{}
	}
	return ClientDependencies{
		Logger:            c.logger,
		LoggerProvider:    c.loggerProvider,
		MetricsRecorder:   c.metricsRecorder,
		ErrorFactory:      c.errorFactory,
		ErrorMapper:       c.errorMapper,
		PersistenceClient: c.persistenceClient,
		RepositoryFactory: c.repositoryFactory,
		ConfigProvider:    c.configProvider,
		OptionsResolver:   c.optionsResolver,
		SecretProvider:    c.secretProvider,
		CredentialStore:   c.credentialStore,
		SessionEventStore: c.sessionEventStore,
		CredentialCodec:   c.credentialCodec,
		Lifecycle:         c.lifecycle,
		Coordinator:       c.coordinator,
		Exchanger:         c.exchanger,
		Transport:         c.transport,
		Signer:            c.signer,
		Hooks:             c.hooks,
	}
}

// OnSessionEnded registers a listener for session termination signals.
// Listeners run in registration order.
func (c *Client) OnSessionEnded(listener SessionListener) {
	if c == nil {
		return
	}
	c.hooks.Register(listener)
}

type StartSessionRequest struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Subject      map[string]any
	Metadata     map[string]any
}

// StartSession stores the credential pair obtained from a login the caller
// performed out of band. Expiry is derived from the access token when the
// caller did not supply one.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (stored CredentialSet, err error) {
	startedAt := c.clockNow()
	fields := map[string]any{"profile": c.Profile()}
	defer func() {
		c.observeOperation(ctx, startedAt, "start_session", err, fields)
	}()

	if strings.TrimSpace(req.AccessToken) == "" {
		err = c.mapError(fmt.Errorf("core: access token is required"))
		return CredentialSet{}, err
	}

	stored, err = c.lifecycle.Store(ctx, CredentialSet{
		Profile:      c.Profile(),
		TokenType:    req.TokenType,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    cloneTimePointer(req.ExpiresAt),
		Subject:      copyAnyMap(req.Subject),
		Metadata:     copyAnyMap(req.Metadata),
	})
	if err != nil {
		err = c.mapError(err)
		return CredentialSet{}, err
	}

	c.appendAuditEvent(ctx, SessionEvent{
		Profile:    stored.Profile,
		Kind:       SessionEventKindStarted,
		Metadata:   RedactSensitiveMap(req.Metadata),
		OccurredAt: c.clockNow().UTC(),
	})
	return stored, nil
}

// RefreshSession forces a coordinated refresh and returns the credential set
// that resulted from it.
func (c *Client) RefreshSession(ctx context.Context) (refreshed CredentialSet, err error) {
	startedAt := c.clockNow()
	fields := map[string]any{"profile": c.Profile()}
	defer func() {
		c.observeOperation(ctx, startedAt, "refresh_session", err, fields)
	}()

	if c == nil || c.coordinator == nil {
		err = c.mapError(fmt.Errorf("core: refresh exchanger is not configured"))
		return CredentialSet{}, err
	}
	if _, err = c.coordinator.Refresh(ctx); err != nil {
		err = c.mapError(err)
		return CredentialSet{}, err
	}
	current, loadErr := c.lifecycle.Current(ctx)
	if loadErr != nil {
		err = c.mapError(loadErr)
		return CredentialSet{}, err
	}
	if current == nil {
		err = c.mapError(ErrNoCredential)
		return CredentialSet{}, err
	}
	return *current, nil
}

// EndSession tears the session down on the caller's initiative. Ending an
// already unauthenticated profile is a no-op and emits nothing.
func (c *Client) EndSession(ctx context.Context, reason SessionEndReason) (event SessionEndedEvent, err error) {
	startedAt := c.clockNow()
	fields := map[string]any{"profile": c.Profile()}
	defer func() {
		c.observeOperation(ctx, startedAt, "end_session", err, fields)
	}()

	if reason == "" {
		reason = SessionEndReasonLogout
	}
	fields["reason"] = string(reason)

	current, loadErr := c.lifecycle.Current(ctx)
	if loadErr != nil {
		err = c.mapError(loadErr)
		return SessionEndedEvent{}, err
	}
	if current == nil {
		return SessionEndedEvent{}, nil
	}

	event = terminateSession(ctx, c.lifecycle, c.sessionEventStore, c.hooks, c.logger, SessionEndedEvent{
		Profile:    c.Profile(),
		Reason:     reason,
		OccurredAt: c.clockNow().UTC(),
	})
	return event, nil
}

// SessionStatus resolves the expiry-proximity snapshot for the stored
// credential without touching the network.
func (c *Client) SessionStatus(ctx context.Context) (TokenState, error) {
	if c == nil {
		return TokenState{}, fmt.Errorf("core: client is nil")
	}
	state, err := c.lifecycle.State(ctx)
	if err != nil {
		return TokenState{}, c.mapError(err)
	}
	return state, nil
}

// ActiveCredential returns the stored credential set, or nil when the
// profile is unauthenticated.
func (c *Client) ActiveCredential(ctx context.Context) (*CredentialSet, error) {
	if c == nil {
		return nil, fmt.Errorf("core: client is nil")
	}
	set, err := c.lifecycle.Current(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}
	return set, nil
}

// SessionEvents lists the audit trail for the client's profile, newest first.
func (c *Client) SessionEvents(ctx context.Context, limit, offset int) ([]SessionEvent, int, error) {
	if c == nil {
		return nil, 0, fmt.Errorf("core: client is nil")
	}
	if c.sessionEventStore == nil {
		return []SessionEvent{}, 0, nil
	}
	events, total, err := c.sessionEventStore.ListByProfile(ctx, c.Profile(), limit, offset)
	if err != nil {
		return nil, 0, c.mapError(err)
	}
	return events, total, nil
}

func (c *Client) appendAuditEvent(ctx context.Context, event SessionEvent) {
	if c == nil || c.sessionEventStore == nil {
		return
	}
	if _, err := c.sessionEventStore.Append(ctx, event); err != nil {
		c.logError(ctx, "session event append failed", map[string]any{
			"profile": event.Profile,
			"kind":    event.Kind,
			"error":   err.Error(),
		})
	}
}

func (c *Client) clockNow() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}
	if c == nil || c.errorMapper == nil {
		return err
	}
	mapped := c.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
