// Package crypto provides cryptographic primitives for evidify.
//
// This package implements the vault key hierarchy: an Argon2id-derived
// key-encryption key (KEK) wraps a random vault key with AES-256-GCM,
// and the vault key encrypts record content at rest. It also provides
// the hashing primitives used by the audit chain and export classifier.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads)
//   - Cryptographically secure random nonce generation
//   - Secure memory wiping for sensitive key material
//   - HKDF-SHA256 sub-key derivation for path hashing
//
// # Example Usage
//
//	// Derive a KEK from the passphrase
//	salt, _ := crypto.NewSalt()
//	kek := crypto.DeriveKEK([]byte("passphrase"), salt)
//
//	// Generate and wrap a vault key
//	vaultKey, _ := crypto.NewVaultKey()
//	wrapped, _ := crypto.Wrap(vaultKey, kek)
//
//	// Later: unwrap with a freshly derived KEK
//	vaultKey, err := crypto.Unwrap(wrapped, kek)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(kek)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrUnwrapFailed indicates the vault key could not be unwrapped.
	// Wrong passphrase and corrupted wrapped key are deliberately
	// indistinguishable through this error.
	ErrUnwrapFailed = errors.New("crypto: vault key unwrap failed")

	// ErrWrappedKeyMalformed indicates a wrapped key blob is too short to
	// contain a nonce and ciphertext.
	ErrWrappedKeyMalformed = errors.New("crypto: wrapped key blob malformed")
)

// DeriveKEK derives a 256-bit key-encryption key from a passphrase using Argon2id.
//
// The function uses OWASP-recommended parameters:
//   - Memory: 64 MB
//   - Iterations: 3
//   - Parallelism: 4 threads
//
// The salt should be SaltLength bytes of cryptographically secure random data.
// Returns a 32-byte key suitable for AES-256 wrapping.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// NewVaultKey generates a random 32-byte vault key from crypto/rand.
func NewVaultKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate vault key: %w", err)
	}
	return key, nil
}

// NewSalt generates a random KDF salt from crypto/rand.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// WrappedVaultKey is a vault key encrypted under a KEK.
type WrappedVaultKey struct {
	Nonce      []byte
	Ciphertext []byte
}

// Encode serializes the wrapped key as nonce || ciphertext for storage
// in the platform keystore.
func (w WrappedVaultKey) Encode() []byte {
	out := make([]byte, 0, len(w.Nonce)+len(w.Ciphertext))
	out = append(out, w.Nonce...)
	out = append(out, w.Ciphertext...)
	return out
}

// DecodeWrappedKey parses a nonce || ciphertext blob produced by Encode.
func DecodeWrappedKey(blob []byte) (WrappedVaultKey, error) {
	// Minimum is nonce plus GCM tag.
	if len(blob) < NonceLength+16 {
		return WrappedVaultKey{}, ErrWrappedKeyMalformed
	}
	return WrappedVaultKey{
		Nonce:      append([]byte(nil), blob[:NonceLength]...),
		Ciphertext: append([]byte(nil), blob[NonceLength:]...),
	}, nil
}

// Wrap encrypts a vault key under a KEK using AES-256-GCM.
func Wrap(vaultKey, kek []byte) (WrappedVaultKey, error) {
	ciphertext, nonce, err := Encrypt(kek, vaultKey)
	if err != nil {
		return WrappedVaultKey{}, err
	}
	return WrappedVaultKey{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Unwrap decrypts a wrapped vault key with a KEK.
//
// Any authentication failure is reported as ErrUnwrapFailed so that a
// wrong passphrase and a corrupted wrapped key cannot be told apart.
func Unwrap(wrapped WrappedVaultKey, kek []byte) ([]byte, error) {
	vaultKey, err := Decrypt(kek, wrapped.Ciphertext, wrapped.Nonce)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) || errors.Is(err, ErrCiphertextTooShort) || errors.Is(err, ErrInvalidNonceLength) {
			return nil, ErrUnwrapFailed
		}
		return nil, err
	}
	return vaultKey, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// The function generates a cryptographically secure random 12-byte nonce
// using crypto/rand. The authentication tag is appended to the ciphertext.
//
// Parameters:
//   - key: 32-byte encryption key
//   - plaintext: data to encrypt (can be any length)
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce (must be stored with ciphertext for decryption)
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	// Generate cryptographically secure random nonce
	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Encrypt with GCM (authentication tag is appended to ciphertext)
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// The function verifies the authentication tag before returning the plaintext.
// If the tag verification fails (indicating tampering or corruption),
// ErrDecryptionFailed is returned.
//
// Parameters:
//   - key: 32-byte encryption key (same key used for encryption)
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce used during encryption
//
// Returns:
//   - plaintext: decrypted data
//   - err: ErrInvalidKeyLength, ErrInvalidNonceLength, ErrCiphertextTooShort,
//     or ErrDecryptionFailed
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	// Verify ciphertext has minimum length (GCM tag is 16 bytes)
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	// Decrypt with GCM (includes authentication tag verification)
	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
// This is critical for securely destroying the KEK and vault key.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
