package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm/core"
)

// VersionedSecretProvider is a SecretProvider that can name the key it
// encrypts with.
type VersionedSecretProvider interface {
	core.SecretProvider
	Metadata() (keyID string, version int)
}

type KeyringDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Outcome    string
	KeyID      string
	Version    int
	Error      string
}

type KeyringDiagnosticHook func(event KeyringDiagnostic)

type KeyringOption func(*KeyringSecretProvider)

// WithRetiredKeys registers providers that may still decrypt secrets written
// before a rotation. They are never used to encrypt.
func WithRetiredKeys(providers ...VersionedSecretProvider) KeyringOption {
	return func(k *KeyringSecretProvider) {
		for _, provider := range providers {
			if provider != nil {
				k.retired = append(k.retired, provider)
			}
		}
	}
}

func WithKeyringDiagnostics(hook KeyringDiagnosticHook) KeyringOption {
	return func(k *KeyringSecretProvider) {
		k.diagnosticHook = hook
	}
}

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if now != nil {
			k.now = now
		}
	}
}

// KeyringSecretProvider encrypts with the active key and decrypts with
// whichever registered key the envelope names.
type KeyringSecretProvider struct {
	active         VersionedSecretProvider
	retired        []VersionedSecretProvider
	byRef          map[string]VersionedSecretProvider
	diagnosticHook KeyringDiagnosticHook
	now            func() time.Time
}

func NewKeyringSecretProvider(active VersionedSecretProvider, opts ...KeyringOption) (*KeyringSecretProvider, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active secret provider is required")
	}
	keyring := &KeyringSecretProvider{
		active: active,
		byRef:  map[string]VersionedSecretProvider{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	for _, provider := range append([]VersionedSecretProvider{active}, keyring.retired...) {
		keyID, version := provider.Metadata()
		ref := keyRef(keyID, version)
		if _, exists := keyring.byRef[ref]; exists {
			return nil, fmt.Errorf("security: duplicate key %s in keyring", ref)
		}
		keyring.byRef[ref] = provider
	}
	return keyring, nil
}

func (k *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	ciphertext, err := k.active.Encrypt(ctx, plaintext)
	keyID, version := k.active.Metadata()
	if err != nil {
		k.emit("encrypt", "failed", keyID, version, err)
		return nil, err
	}
	return ciphertext, nil
}

func (k *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		k.emit("decrypt", "invalid_envelope", "", 0, err)
		return nil, err
	}
	provider, ok := k.byRef[keyRef(meta.KeyID, meta.Version)]
	if !ok {
		err := fmt.Errorf("security: no key %s in keyring", keyRef(meta.KeyID, meta.Version))
		k.emit("decrypt", "unknown_key", meta.KeyID, meta.Version, err)
		return nil, err
	}
	plaintext, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		k.emit("decrypt", "failed", meta.KeyID, meta.Version, err)
		return nil, err
	}
	if provider != k.active {
		k.emit("decrypt", "retired_key", meta.KeyID, meta.Version, nil)
	}
	return plaintext, nil
}

// NeedsRotation reports whether ciphertext was sealed with a key other than
// the active one.
func (k *KeyringSecretProvider) NeedsRotation(ciphertext []byte) bool {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return true
	}
	keyID, version := k.active.Metadata()
	return meta.KeyID != keyID || meta.Version != version
}

func (k *KeyringSecretProvider) Metadata() (string, int) {
	if k == nil {
		return "", 0
	}
	return k.active.Metadata()
}

func (k *KeyringSecretProvider) emit(operation string, outcome string, keyID string, version int, err error) {
	if k.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	k.diagnosticHook(KeyringDiagnostic{
		OccurredAt: k.now().UTC(),
		Operation:  operation,
		Outcome:    outcome,
		KeyID:      keyID,
		Version:    version,
		Error:      msg,
	})
}

func keyRef(keyID string, version int) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(keyID), version)
}

var _ VersionedSecretProvider = (*KeyringSecretProvider)(nil)
