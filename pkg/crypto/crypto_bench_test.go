package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/evidifyai/evidify/pkg/crypto"
)

// BenchmarkDeriveKEK measures Argon2id key derivation performance.
// Expected: ~35ms on modern hardware with 64MB memory cost (OWASP recommended parameters).
func BenchmarkDeriveKEK(b *testing.B) {
	passphrase := []byte("Correct-Horse-1!")
	salt := make([]byte, crypto.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.DeriveKEK(passphrase, salt)
	}
}

// BenchmarkEncrypt measures AES-256-GCM encryption performance with 1KB payload.
func BenchmarkEncrypt(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, 1024) // 1KB, about the size of a short session note
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := crypto.Encrypt(key, data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecrypt measures AES-256-GCM decryption performance with 1KB payload.
func BenchmarkDecrypt(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, 1024)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	ciphertext, nonce, err := crypto.Encrypt(key, data)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.Decrypt(key, ciphertext, nonce); err != nil {
			b.Fatal(err)
		}
	}
}
