package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryKeyValueStore is a process-local KeyValueStore. Payloads are copied
// on the way in and out so callers never share backing arrays.
type MemoryKeyValueStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{entries: map[string][]byte{}}
}

func (s *MemoryKeyValueStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("core: key value store is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, found := s.entries[key]
	if !found {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryKeyValueStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil {
		return fmt.Errorf("core: key value store is required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("core: key value store key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryKeyValueStore) Remove(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("core: key value store is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

const defaultCredentialKeyPrefix = "authclient.credential."

// KeyValueCredentialStore adapts any KeyValueStore into a CredentialStore.
// The codec decides the payload shape; an optional secret provider protects
// the payload at rest.
type KeyValueCredentialStore struct {
	kv      KeyValueStore
	codec   CredentialCodec
	secrets SecretProvider
	prefix  string
}

type KeyValueStoreOption func(*KeyValueCredentialStore)

func WithKeyValueCodec(codec CredentialCodec) KeyValueStoreOption {
	return func(store *KeyValueCredentialStore) {
		if codec != nil {
			store.codec = codec
		}
	}
}

func WithKeyValueSecretProvider(secrets SecretProvider) KeyValueStoreOption {
	return func(store *KeyValueCredentialStore) {
		store.secrets = secrets
	}
}

func WithKeyValuePrefix(prefix string) KeyValueStoreOption {
	return func(store *KeyValueCredentialStore) {
		if strings.TrimSpace(prefix) != "" {
			store.prefix = strings.TrimSpace(prefix)
		}
	}
}

func NewKeyValueCredentialStore(kv KeyValueStore, options ...KeyValueStoreOption) (*KeyValueCredentialStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("core: key value store is required")
	}
	store := &KeyValueCredentialStore{
		kv:     kv,
		codec:  JSONCredentialCodec{},
		prefix: defaultCredentialKeyPrefix,
	}
	for _, opt := range options {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *KeyValueCredentialStore) Load(ctx context.Context, profile string) (*CredentialSet, error) {
	if s == nil {
		return nil, fmt.Errorf("core: credential store is required")
	}
	profile = normalizeProfile(profile)
	payload, found, err := s.kv.Get(ctx, s.key(profile))
	if err != nil {
		return nil, fmt.Errorf("core: load credential payload: %w", err)
	}
	if !found {
		return nil, nil
	}
	if s.secrets != nil {
		payload, err = s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("core: decrypt credential payload: %w", err)
		}
	}
	set, err := s.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	set.Profile = profile
	return &set, nil
}

func (s *KeyValueCredentialStore) Store(ctx context.Context, set CredentialSet) (CredentialSet, error) {
	if s == nil {
		return CredentialSet{}, fmt.Errorf("core: credential store is required")
	}
	if !set.HasAccessToken() {
		return CredentialSet{}, fmt.Errorf("core: credential access token is required")
	}
	set.Profile = normalizeProfile(set.Profile)

	current, err := s.Load(ctx, set.Profile)
	if err != nil {
		return CredentialSet{}, err
	}
	set.Version = 1
	if current != nil {
		set.Version = current.Version + 1
	}

	payload, err := s.codec.Encode(set)
	if err != nil {
		return CredentialSet{}, err
	}
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return CredentialSet{}, fmt.Errorf("core: encrypt credential payload: %w", err)
		}
	}
	if err := s.kv.Set(ctx, s.key(set.Profile), payload); err != nil {
		return CredentialSet{}, fmt.Errorf("core: store credential payload: %w", err)
	}
	return set, nil
}

func (s *KeyValueCredentialStore) Clear(ctx context.Context, profile string) error {
	if s == nil {
		return fmt.Errorf("core: credential store is required")
	}
	if err := s.kv.Remove(ctx, s.key(normalizeProfile(profile))); err != nil {
		return fmt.Errorf("core: clear credential payload: %w", err)
	}
	return nil
}

func (s *KeyValueCredentialStore) key(profile string) string {
	return s.prefix + profile
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

// MemorySessionEventStore keeps the session audit trail in memory, newest
// first, the same ordering the SQL store returns.
type MemorySessionEventStore struct {
	mu     sync.RWMutex
	events map[string][]SessionEvent
	now    func() time.Time
}

func NewMemorySessionEventStore() *MemorySessionEventStore {
	return &MemorySessionEventStore{
		events: map[string][]SessionEvent{},
		now:    time.Now,
	}
}

func (s *MemorySessionEventStore) Append(ctx context.Context, event SessionEvent) (SessionEvent, error) {
	if s == nil {
		return SessionEvent{}, fmt.Errorf("core: session event store is required")
	}
	event.Profile = normalizeProfile(event.Profile)
	if strings.TrimSpace(event.Kind) == "" {
		return SessionEvent{}, fmt.Errorf("core: session event kind is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	event.CreatedAt = s.now().UTC()
	event.Metadata = copyAnyMap(event.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.Profile] = append(s.events[event.Profile], event)
	return event, nil
}

func (s *MemorySessionEventStore) ListByProfile(ctx context.Context, profile string, limit, offset int) ([]SessionEvent, int, error) {
	if s == nil {
		return nil, 0, fmt.Errorf("core: session event store is required")
	}
	profile = normalizeProfile(profile)

	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.events[profile]
	total := len(stored)

	ordered := make([]SessionEvent, total)
	for i, event := range stored {
		ordered[total-1-i] = event
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []SessionEvent{}, total, nil
	}
	ordered = ordered[offset:]
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}
	out := make([]SessionEvent, len(ordered))
	for i, event := range ordered {
		event.Metadata = copyAnyMap(event.Metadata)
		out[i] = event
	}
	return out, total, nil
}
