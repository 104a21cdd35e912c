package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashContent returns the hex-encoded SHA-256 digest of data.
// Used to freeze record content at signing time.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainEntryHash computes the hash of an audit chain entry:
// hex(SHA-256(previousHash || entryData)).
func ChainEntryHash(previousHash string, entryData []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(entryData)
	return hex.EncodeToString(h.Sum(nil))
}

// HashPath returns the hex-encoded salted hash of a canonical path:
// hex(SHA-256(salt || path)). Audit entries store this instead of the
// raw path so the chain never reveals filesystem layout.
func HashPath(salt []byte, canonicalPath string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(canonicalPath))
	return hex.EncodeToString(h.Sum(nil))
}

// DerivePathSalt derives the per-vault path-hashing salt from the vault
// key with HKDF-SHA256. The salt is deterministic for a given vault key
// so path hashes remain stable across sessions without storing the salt.
func DerivePathSalt(vaultKey []byte) ([]byte, error) {
	if len(vaultKey) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	r := hkdf.New(sha256.New, vaultKey, nil, []byte("evidify path-hash v1"))
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive path salt: %w", err)
	}
	return salt, nil
}
