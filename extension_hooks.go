package authclient

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-authclient/core"
	"github.com/goliatone/go-authclient/transport"
)

type TransportPack struct {
	Name     string
	Adapters []core.TransportAdapter
}

type SessionListenerPack struct {
	Name      string
	Listeners []core.SessionListener
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// SessionListenerRegistrar is the part of the client listener packs attach to.
type SessionListenerRegistrar interface {
	OnSessionEnded(listener core.SessionListener)
}

// ExtensionHooks collects downstream contributions before the client wiring
// runs: transport adapters, session-ended listeners, and command/query bundle
// factories. Registration is name-keyed and first-writer-wins.
type ExtensionHooks struct {
	mu sync.RWMutex

	transportPacks map[string]TransportPack
	listenerPacks  map[string]SessionListenerPack
	bundles        map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		transportPacks: map[string]TransportPack{},
		listenerPacks:  map[string]SessionListenerPack{},
		bundles:        map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterTransportPack(pack TransportPack) error {
	if h == nil {
		return fmt.Errorf("authclient: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("authclient: transport pack name is required")
	}
	if len(pack.Adapters) == 0 {
		return fmt.Errorf("authclient: transport pack %q has no adapters", name)
	}

	normalized := TransportPack{
		Name:     name,
		Adapters: append([]core.TransportAdapter(nil), pack.Adapters...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.transportPacks[name]; exists {
		return fmt.Errorf("authclient: transport pack %q already registered", name)
	}
	h.transportPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterListenerPack(pack SessionListenerPack) error {
	if h == nil {
		return fmt.Errorf("authclient: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("authclient: listener pack name is required")
	}
	if len(pack.Listeners) == 0 {
		return fmt.Errorf("authclient: listener pack %q has no listeners", name)
	}

	normalized := SessionListenerPack{
		Name:      name,
		Listeners: append([]core.SessionListener(nil), pack.Listeners...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.listenerPacks[name]; exists {
		return fmt.Errorf("authclient: listener pack %q already registered", name)
	}
	h.listenerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("authclient: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("authclient: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("authclient: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("authclient: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) ApplyTransportPacks(registry *transport.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("authclient: transport registry is required")
	}

	packs := h.TransportPacks()
	for _, pack := range packs {
		for _, adapter := range pack.Adapters {
			if adapter == nil {
				return fmt.Errorf("authclient: transport pack %q contains nil adapter", pack.Name)
			}
			if err := registry.Register(adapter); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ApplyListenerPacks(registrar SessionListenerRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("authclient: session listener registrar is required")
	}

	packs := h.ListenerPacks()
	for _, pack := range packs {
		for _, listener := range pack.Listeners {
			if listener == nil {
				return fmt.Errorf("authclient: listener pack %q contains nil listener", pack.Name)
			}
			registrar.OnSessionEnded(listener)
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("authclient: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) TransportPacks() []TransportPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.transportPacks))
	for name := range h.transportPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TransportPack, 0, len(names))
	for _, name := range names {
		pack := h.transportPacks[name]
		out = append(out, TransportPack{
			Name:     pack.Name,
			Adapters: append([]core.TransportAdapter(nil), pack.Adapters...),
		})
	}
	return out
}

func (h *ExtensionHooks) ListenerPacks() []SessionListenerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.listenerPacks))
	for name := range h.listenerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SessionListenerPack, 0, len(names))
	for _, name := range names {
		pack := h.listenerPacks[name]
		out = append(out, SessionListenerPack{
			Name:      pack.Name,
			Listeners: append([]core.SessionListener(nil), pack.Listeners...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
