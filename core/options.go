package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type clientBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	keyValueStore     KeyValueStore
	credentialStore   CredentialStore
	sessionEventStore SessionEventStore
	credentialCodec   CredentialCodec
	exchanger         RefreshExchanger
	transport         TransportAdapter
	signer            Signer
	now               func() time.Time
}

type Option func(*clientBuilder)

func WithLogger(logger Logger) Option {
	return func(b *clientBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *clientBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *clientBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *clientBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *clientBuilder) {
		b.errorMapper = mapper
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *clientBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *clientBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *clientBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *clientBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *clientBuilder) {
		b.optionsResolver = resolver
	}
}

func WithKeyValueStore(store KeyValueStore) Option {
	return func(b *clientBuilder) {
		b.keyValueStore = store
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *clientBuilder) {
		b.credentialStore = store
	}
}

func WithSessionEventStore(store SessionEventStore) Option {
	return func(b *clientBuilder) {
		b.sessionEventStore = store
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *clientBuilder) {
		b.credentialCodec = codec
	}
}

func WithRefreshExchanger(exchanger RefreshExchanger) Option {
	return func(b *clientBuilder) {
		b.exchanger = exchanger
	}
}

func WithTransportAdapter(adapter TransportAdapter) Option {
	return func(b *clientBuilder) {
		b.transport = adapter
	}
}

func WithSigner(signer Signer) Option {
	return func(b *clientBuilder) {
		b.signer = signer
	}
}

// WithClock overrides the time source for expiry checks. Tests use this to
// walk tokens toward and past their deadline.
func WithClock(now func() time.Time) Option {
	return func(b *clientBuilder) {
		b.now = now
	}
}

func defaultClientBuilder(runtime Config) clientBuilder {
	loggerProvider, logger := glog.Resolve("authclient", nil, nil)
	return clientBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		credentialCodec: JSONCredentialCodec{},
		now:             time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return clientErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ClientName) != "" {
		layer["client_name"] = cfg.ClientName
	}
	if includeZero || strings.TrimSpace(cfg.Profile) != "" {
		layer["profile"] = cfg.Profile
	}
	if includeZero || strings.TrimSpace(cfg.BaseURL) != "" {
		layer["base_url"] = cfg.BaseURL
	}
	if includeZero || strings.TrimSpace(cfg.RefreshURL) != "" {
		layer["refresh_url"] = cfg.RefreshURL
	}
	if includeZero || cfg.ExpiringSoonWindow != 0 {
		layer["expiring_soon_window"] = cfg.ExpiringSoonWindow
	}
	if includeZero || cfg.RequestTimeout != 0 {
		layer["request_timeout"] = cfg.RequestTimeout
	}
	if includeZero || cfg.MaxResponseBodyBytes != 0 {
		layer["max_response_body_bytes"] = cfg.MaxResponseBodyBytes
	}
	if includeZero || cfg.KeepFresh != (KeepFreshConfig{}) {
		layer["keep_fresh"] = map[string]any{
			"enabled":         cfg.KeepFresh.Enabled,
			"interval":        cfg.KeepFresh.Interval,
			"initial_backoff": cfg.KeepFresh.InitialBackoff,
			"max_backoff":     cfg.KeepFresh.MaxBackoff,
		}
	}
	return layer
}
