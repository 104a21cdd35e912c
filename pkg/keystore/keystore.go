// Package keystore stores the wrapped vault key and KDF salt in the
// platform credential store (macOS Keychain, Secret Service, Windows
// Credential Manager) via 99designs/keyring.
//
// Only key material lives here. The encrypted database stays on disk;
// losing either half without the other leaves the vault unreadable,
// which the vault state machine surfaces as KeychainLost or
// StaleKeychain rather than guessing.
package keystore

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/evidifyai/evidify/pkg/crypto"
)

// ServiceName identifies evidify entries in the platform store.
const ServiceName = "ai.evidify.vault"

// Entry names within the service.
const (
	entryWrappedKey = "wrapped_vault_key"
	entryKDFSalt    = "kdf_salt"
)

// Sentinel errors returned by keystore operations.
var (
	// ErrNotFound indicates the requested entry is absent from the
	// platform store.
	ErrNotFound = errors.New("keystore: entry not found")
)

// Store wraps a platform keyring scoped to the evidify service.
type Store struct {
	ring keyring.Keyring
}

// Open opens the default platform credential store.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to open platform store: %w", err)
	}
	return &Store{ring: ring}, nil
}

// OpenFile opens a file-backed store rooted at dir. Used by tests and
// headless environments without a credential service. The file backend
// is encrypted with a fixed prompt, so it protects against casual reads
// only; prefer the platform store.
func OpenFile(dir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      ServiceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(ServiceName),
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to open file store: %w", err)
	}
	return &Store{ring: ring}, nil
}

// StoreWrappedKey saves the wrapped vault key, replacing any previous entry.
func (s *Store) StoreWrappedKey(wrapped crypto.WrappedVaultKey) error {
	return s.set(entryWrappedKey, wrapped.Encode())
}

// LoadWrappedKey loads and decodes the wrapped vault key.
func (s *Store) LoadWrappedKey() (crypto.WrappedVaultKey, error) {
	blob, err := s.get(entryWrappedKey)
	if err != nil {
		return crypto.WrappedVaultKey{}, err
	}
	wrapped, err := crypto.DecodeWrappedKey(blob)
	if err != nil {
		return crypto.WrappedVaultKey{}, fmt.Errorf("keystore: stored wrapped key unreadable: %w", err)
	}
	return wrapped, nil
}

// StoreSalt saves the KDF salt, replacing any previous entry.
func (s *Store) StoreSalt(salt []byte) error {
	return s.set(entryKDFSalt, salt)
}

// LoadSalt loads the KDF salt.
func (s *Store) LoadSalt() ([]byte, error) {
	return s.get(entryKDFSalt)
}

// HasEntries reports whether any evidify key material is present.
func (s *Store) HasEntries() bool {
	if _, err := s.get(entryWrappedKey); err == nil {
		return true
	}
	if _, err := s.get(entryKDFSalt); err == nil {
		return true
	}
	return false
}

// Clear removes both entries. Missing entries are not an error so the
// stale-keychain recovery path can run repeatedly.
func (s *Store) Clear() error {
	for _, key := range []string{entryWrappedKey, entryKDFSalt} {
		if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("keystore: failed to remove %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) set(key string, data []byte) error {
	// Base64 keeps the payload printable for backends that mangle raw bytes.
	encoded := base64.StdEncoding.EncodeToString(data)
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(encoded),
		Label: "evidify " + key,
	})
	if err != nil {
		return fmt.Errorf("keystore: failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: failed to read %s: %w", key, err)
	}
	data, err := base64.StdEncoding.DecodeString(string(item.Data))
	if err != nil {
		return nil, fmt.Errorf("keystore: stored %s not base64: %w", key, err)
	}
	return data, nil
}
