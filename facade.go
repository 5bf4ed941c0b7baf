package authclient

import (
	"context"
	"fmt"
	"reflect"

	authcommand "github.com/goliatone/go-authclient/command"
	"github.com/goliatone/go-authclient/core"
	authquery "github.com/goliatone/go-authclient/query"
	gocmd "github.com/goliatone/go-command"
)

type CommandQueryService interface {
	authcommand.SessionService
	authquery.SessionReader
}

type Commands struct {
	StartSession   *authcommand.StartSessionCommand
	RefreshSession *authcommand.RefreshSessionCommand
	EndSession     *authcommand.EndSessionCommand
	SendRequest    *authcommand.SendRequestCommand
}

type Queries struct {
	SessionStatus     *authquery.SessionStatusQuery
	ActiveCredential  *authquery.ActiveCredentialQuery
	ListSessionEvents *authquery.ListSessionEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	eventStore core.SessionEventStore
}

// WithEventListingStore serves the event-listing query from the given store
// instead of routing it back through the service. Useful when events live in a
// read replica or a cache the service does not see.
func WithEventListingStore(store core.SessionEventStore) FacadeOption {
	return func(options *facadeOptions) {
		options.eventStore = store
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("authclient: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	eventStore := cfg.eventStore
	if eventStore == nil {
		eventStore = resolveSessionEventStore(service)
	}
	reader := authquery.SessionReader(service)
	if eventStore != nil {
		reader = eventStoreSessionReader{service: service, events: eventStore}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartSession:   authcommand.NewStartSessionCommand(service),
		RefreshSession: authcommand.NewRefreshSessionCommand(service),
		EndSession:     authcommand.NewEndSessionCommand(service),
		SendRequest:    authcommand.NewSendRequestCommand(service),
	}
	facade.queries = Queries{
		SessionStatus:     authquery.NewSessionStatusQuery(service),
		ActiveCredential:  authquery.NewActiveCredentialQuery(service),
		ListSessionEvents: authquery.NewListSessionEventsQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// RegisterHandlers wires every facade handler into the go-command registry so
// dispatchers resolve them by message type.
func (f *Facade) RegisterHandlers(registry *gocmd.Registry) error {
	if f == nil {
		return fmt.Errorf("authclient: facade is nil")
	}
	if registry == nil {
		return fmt.Errorf("authclient: command registry is required")
	}
	handlers := []any{
		f.commands.StartSession,
		f.commands.RefreshSession,
		f.commands.EndSession,
		f.commands.SendRequest,
		f.queries.SessionStatus,
		f.queries.ActiveCredential,
		f.queries.ListSessionEvents,
	}
	for _, handler := range handlers {
		if err := registry.RegisterCommand(handler); err != nil {
			return err
		}
	}
	return nil
}

// eventStoreSessionReader keeps status and credential reads on the service
// while listing events straight from the store.
type eventStoreSessionReader struct {
	service CommandQueryService
	events  core.SessionEventStore
}

func (r eventStoreSessionReader) SessionStatus(ctx context.Context) (core.TokenState, error) {
	return r.service.SessionStatus(ctx)
}

func (r eventStoreSessionReader) ActiveCredential(ctx context.Context) (*core.CredentialSet, error) {
	return r.service.ActiveCredential(ctx)
}

func (r eventStoreSessionReader) SessionEvents(ctx context.Context, limit int, offset int) ([]core.SessionEvent, int, error) {
	profile := core.DefaultProfile
	if scoped, ok := r.service.(interface{ Profile() string }); ok {
		if p := scoped.Profile(); p != "" {
			profile = p
		}
	}
	return r.events.ListByProfile(ctx, profile, limit, offset)
}

func resolveSessionEventStore(service CommandQueryService) core.SessionEventStore {
	if service == nil {
		return nil
	}
	provider, ok := service.(interface {
		Dependencies() core.ClientDependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.SessionEventStore != nil {
		// The service already lists from this store; no override needed.
		return nil
	}
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("SessionEventStore")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok {
		return nil
	}
	if len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	store, ok := candidate.Interface().(core.SessionEventStore)
	if !ok {
		return nil
	}
	return store
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
