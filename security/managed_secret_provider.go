package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authclient/core"
)

type KeyServiceRequest struct {
	KeyID      string
	KeyVersion int
	Payload    []byte
	Metadata   map[string]string
}

// KeyService is the narrow surface an external key manager (AWS KMS, Vault
// transit, or anything shaped like them) must expose. The provider never sees
// key material; ciphertext travels to the service and back.
type KeyService interface {
	Encrypt(ctx context.Context, req KeyServiceRequest) ([]byte, error)
	Decrypt(ctx context.Context, req KeyServiceRequest) ([]byte, error)
}

type ManagedOption func(*ManagedSecretProvider)

type keyRef struct {
	ID      string
	Version int
}

func (r keyRef) id() string {
	return fmt.Sprintf("%s:%d", r.ID, r.Version)
}

// ManagedSecretProvider wraps a KeyService as a core.SecretProvider. One
// active key version encrypts; older versions decrypt only while explicitly
// allowed, optionally gated by a rotation window.
type ManagedSecretProvider struct {
	service         KeyService
	algorithm       string
	active          keyRef
	decryptAllowed  map[string]keyRef
	rotationWindows map[string]KeyRotationWindow
	allowAnyDecrypt bool
	metadata        map[string]string
	now             func() time.Time
}

func NewManagedSecretProvider(service KeyService, algorithm, keyID string, version int, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	if service == nil {
		return nil, fmt.Errorf("security: key service is required")
	}
	label := strings.ToLower(strings.TrimSpace(algorithm))
	if label == "" {
		return nil, fmt.Errorf("security: algorithm label is required")
	}
	if label == envelopeAlgorithm {
		return nil, fmt.Errorf("security: algorithm %q belongs to the app-key provider", label)
	}
	ref, err := newKeyRef(keyID, version)
	if err != nil {
		return nil, err
	}
	provider := &ManagedSecretProvider{
		service:         service,
		algorithm:       label,
		active:          ref,
		decryptAllowed:  map[string]keyRef{ref.id(): ref},
		rotationWindows: map[string]KeyRotationWindow{},
		metadata:        map[string]string{},
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

// NewKMSSecretProvider builds a managed provider whose envelopes carry the
// kms algorithm label.
func NewKMSSecretProvider(service KeyService, keyID string, version int, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	return NewManagedSecretProvider(service, envelopeAlgorithmKMS, keyID, version, opts...)
}

// NewVaultSecretProvider builds a managed provider whose envelopes carry the
// vault algorithm label. The key id is the transit key path.
func NewVaultSecretProvider(service KeyService, keyPath string, version int, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	return NewManagedSecretProvider(service, envelopeAlgorithmVault, keyPath, version, opts...)
}

// WithDecryptCompatibilityKey allows a retired key version to keep decrypting
// during a rotation.
func WithDecryptCompatibilityKey(keyID string, version int) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		ref, err := newKeyRef(keyID, version)
		if err != nil {
			return
		}
		provider.decryptAllowed[ref.id()] = ref
	}
}

func WithRotationWindow(keyID string, version int, window KeyRotationWindow) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		ref, err := newKeyRef(keyID, version)
		if err != nil {
			return
		}
		provider.rotationWindows[ref.id()] = window
	}
}

func WithAllowAnyDecryptKey(allow bool) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		provider.allowAnyDecrypt = allow
	}
}

func WithManagedMetadata(metadata map[string]string) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		provider.metadata = copyStringMap(metadata)
	}
}

func WithManagedClock(now func() time.Time) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		provider.now = now
	}
}

func (p *ManagedSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !p.rotationWindowAllows(p.active) {
		return nil, fmt.Errorf("security: key %q version %d is outside the configured rotation window", p.active.ID, p.active.Version)
	}

	ciphertext, err := p.service.Encrypt(ctx, KeyServiceRequest{
		KeyID:      p.active.ID,
		KeyVersion: p.active.Version,
		Payload:    append([]byte(nil), plaintext...),
		Metadata:   copyStringMap(p.metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: %s encrypt: %w", p.algorithm, err)
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: %s encrypt returned empty ciphertext", p.algorithm)
	}
	return encodeEnvelope(envelope{
		KeyID:      p.active.ID,
		Version:    p.active.Version,
		Algorithm:  p.algorithm,
		Ciphertext: encodeCiphertextPayload(ciphertext),
		Metadata:   copyStringMap(p.metadata),
	})
}

func (p *ManagedSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{DefaultAlgorithm: p.algorithm})
	if err != nil {
		return nil, err
	}
	if env.Algorithm != p.algorithm {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	}
	ref, err := newKeyRef(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	if !p.allowAnyDecrypt {
		if _, ok := p.decryptAllowed[ref.id()]; !ok {
			return nil, fmt.Errorf("security: decrypt key %q version %d is not configured", ref.ID, ref.Version)
		}
	}
	if !p.rotationWindowAllows(ref) {
		return nil, fmt.Errorf("security: key %q version %d is outside the configured rotation window", ref.ID, ref.Version)
	}

	payload, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext, err := p.service.Decrypt(ctx, KeyServiceRequest{
		KeyID:      ref.ID,
		KeyVersion: ref.Version,
		Payload:    payload,
		Metadata:   copyStringMap(env.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: %s decrypt: %w", p.algorithm, err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: %s decrypt returned empty plaintext", p.algorithm)
	}
	return plaintext, nil
}

func (p *ManagedSecretProvider) Algorithm() string {
	if p == nil {
		return ""
	}
	return p.algorithm
}

func (p *ManagedSecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.ID
}

func (p *ManagedSecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.Version
}

func (p *ManagedSecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *ManagedSecretProvider) rotationWindowAllows(ref keyRef) bool {
	if p == nil {
		return false
	}
	window, ok := p.rotationWindows[ref.id()]
	if !ok {
		return true
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return window.Allows(now())
}

func newKeyRef(keyID string, version int) (keyRef, error) {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return keyRef{}, fmt.Errorf("security: key id is required")
	}
	if version <= 0 {
		return keyRef{}, fmt.Errorf("security: key version must be greater than zero")
	}
	return keyRef{ID: trimmed, Version: version}, nil
}

func copyStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	output := make(map[string]string, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		output[trimmedKey] = strings.TrimSpace(value)
	}
	if len(output) == 0 {
		return nil
	}
	return output
}

var _ core.SecretProvider = (*ManagedSecretProvider)(nil)
