package security

import (
	"context"
	"testing"
)

func newAppKey(t *testing.T, material string, keyID string, version int) *AppKeySecretProvider {
	t.Helper()
	provider, err := NewAppKeySecretProviderFromString(material, WithKeyID(keyID), WithVersion(version))
	if err != nil {
		t.Fatalf("new app key provider: %v", err)
	}
	return provider
}

func TestKeyringSecretProvider_DecryptsWithRetiredKey(t *testing.T) {
	oldKey := newAppKey(t, "old-material", "crm", 1)
	newKey := newAppKey(t, "new-material", "crm", 2)

	legacy, err := oldKey.Encrypt(context.Background(), []byte("rt_old"))
	if err != nil {
		t.Fatalf("encrypt legacy: %v", err)
	}

	var events []KeyringDiagnostic
	keyring, err := NewKeyringSecretProvider(newKey,
		WithRetiredKeys(oldKey),
		WithKeyringDiagnostics(func(event KeyringDiagnostic) { events = append(events, event) }),
	)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	plaintext, err := keyring.Decrypt(context.Background(), legacy)
	if err != nil {
		t.Fatalf("decrypt legacy: %v", err)
	}
	if string(plaintext) != "rt_old" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}
	if !keyring.NeedsRotation(legacy) {
		t.Fatalf("legacy ciphertext should need rotation")
	}
	if len(events) != 1 || events[0].Outcome != "retired_key" || events[0].Version != 1 {
		t.Fatalf("expected retired key diagnostic, got %#v", events)
	}

	fresh, err := keyring.Encrypt(context.Background(), []byte("rt_new"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if keyring.NeedsRotation(fresh) {
		t.Fatalf("fresh ciphertext should use the active key")
	}
	meta, err := ParseEnvelopeMetadata(fresh)
	if err != nil || meta.Version != 2 {
		t.Fatalf("expected active key version 2, got %#v err=%v", meta, err)
	}
}

func TestKeyringSecretProvider_UnknownKeyFails(t *testing.T) {
	stranger := newAppKey(t, "stranger", "other", 7)
	sealed, err := stranger.Encrypt(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	keyring, err := NewKeyringSecretProvider(newAppKey(t, "active", "crm", 1))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if _, err := keyring.Decrypt(context.Background(), sealed); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestNewKeyringSecretProvider_RejectsDuplicateKeys(t *testing.T) {
	active := newAppKey(t, "a", "crm", 1)
	if _, err := NewKeyringSecretProvider(active, WithRetiredKeys(newAppKey(t, "b", "crm", 1))); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
