package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// TestDeriveKEK tests the Argon2id key derivation function
func TestDeriveKEK(t *testing.T) {
	passphrase := []byte("Correct-Horse-1!")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	// Test key derivation produces correct length
	kek := DeriveKEK(passphrase, salt)
	if len(kek) != KeyLength {
		t.Errorf("DeriveKEK() returned key of length %d, want %d", len(kek), KeyLength)
	}

	// Test same passphrase + salt produces same key (deterministic)
	kek2 := DeriveKEK(passphrase, salt)
	if !bytes.Equal(kek, kek2) {
		t.Error("DeriveKEK() with same inputs should produce identical keys")
	}

	// Test different passphrase produces different key
	differentKEK := DeriveKEK([]byte("different-passphrase"), salt)
	if bytes.Equal(kek, differentKEK) {
		t.Error("DeriveKEK() with different passphrase should produce different key")
	}

	// Test different salt produces different key
	differentSalt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	differentKEK = DeriveKEK(passphrase, differentSalt)
	if bytes.Equal(kek, differentKEK) {
		t.Error("DeriveKEK() with different salt should produce different key")
	}
}

// TestDeriveKEKParameters verifies Argon2id parameters match OWASP recommendations
func TestDeriveKEKParameters(t *testing.T) {
	if Argon2Memory != 64*1024 {
		t.Errorf("Argon2Memory = %d, want %d (64MB)", Argon2Memory, 64*1024)
	}
	if Argon2Time != 3 {
		t.Errorf("Argon2Time = %d, want 3", Argon2Time)
	}
	if Argon2Threads != 4 {
		t.Errorf("Argon2Threads = %d, want 4", Argon2Threads)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
}

// TestWrapUnwrapRoundTrip tests the vault key wrap/unwrap cycle
func TestWrapUnwrapRoundTrip(t *testing.T) {
	vaultKey, err := NewVaultKey()
	if err != nil {
		t.Fatalf("NewVaultKey() error = %v", err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	kek := DeriveKEK([]byte("Correct-Horse-1!"), salt)

	wrapped, err := Wrap(vaultKey, kek)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	// Wrapped ciphertext must not contain the vault key
	if bytes.Contains(wrapped.Ciphertext, vaultKey) {
		t.Error("Wrap() ciphertext should not contain the vault key")
	}

	unwrapped, err := Unwrap(wrapped, kek)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if !bytes.Equal(unwrapped, vaultKey) {
		t.Error("Unwrap() should recover the original vault key")
	}
}

// TestUnwrapWrongPassphrase verifies a wrong passphrase yields ErrUnwrapFailed
// and is indistinguishable from a corrupted wrapped key.
func TestUnwrapWrongPassphrase(t *testing.T) {
	vaultKey, err := NewVaultKey()
	if err != nil {
		t.Fatalf("NewVaultKey() error = %v", err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	kek := DeriveKEK([]byte("Correct-Horse-1!"), salt)

	wrapped, err := Wrap(vaultKey, kek)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	// Wrong passphrase
	wrongKEK := DeriveKEK([]byte("wrong-passphrase"), salt)
	_, err = Unwrap(wrapped, wrongKEK)
	if err != ErrUnwrapFailed {
		t.Errorf("Unwrap() with wrong KEK error = %v, want %v", err, ErrUnwrapFailed)
	}

	// Corrupted wrapped key must produce the identical error
	corrupted := wrapped
	corrupted.Ciphertext = append([]byte(nil), wrapped.Ciphertext...)
	corrupted.Ciphertext[0] ^= 0x01
	_, err = Unwrap(corrupted, kek)
	if err != ErrUnwrapFailed {
		t.Errorf("Unwrap() with corrupted key error = %v, want %v", err, ErrUnwrapFailed)
	}
}

// TestWrappedVaultKeyEncodeDecode tests the nonce||ciphertext serialization
func TestWrappedVaultKeyEncodeDecode(t *testing.T) {
	vaultKey, err := NewVaultKey()
	if err != nil {
		t.Fatalf("NewVaultKey() error = %v", err)
	}
	kek := make([]byte, KeyLength)
	if _, err := rand.Read(kek); err != nil {
		t.Fatalf("failed to generate kek: %v", err)
	}

	wrapped, err := Wrap(vaultKey, kek)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	blob := wrapped.Encode()
	if len(blob) != len(wrapped.Nonce)+len(wrapped.Ciphertext) {
		t.Errorf("Encode() length = %d, want %d", len(blob), len(wrapped.Nonce)+len(wrapped.Ciphertext))
	}

	decoded, err := DecodeWrappedKey(blob)
	if err != nil {
		t.Fatalf("DecodeWrappedKey() error = %v", err)
	}
	if !bytes.Equal(decoded.Nonce, wrapped.Nonce) {
		t.Error("DecodeWrappedKey() nonce mismatch")
	}
	if !bytes.Equal(decoded.Ciphertext, wrapped.Ciphertext) {
		t.Error("DecodeWrappedKey() ciphertext mismatch")
	}

	unwrapped, err := Unwrap(decoded, kek)
	if err != nil {
		t.Fatalf("Unwrap() after decode error = %v", err)
	}
	if !bytes.Equal(unwrapped, vaultKey) {
		t.Error("Unwrap() after decode should recover the original vault key")
	}
}

// TestDecodeWrappedKeyMalformed tests rejection of truncated blobs
func TestDecodeWrappedKeyMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"nonce only", make([]byte, NonceLength)},
		{"short ciphertext", make([]byte, NonceLength+8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWrappedKey(tt.blob)
			if err != ErrWrappedKeyMalformed {
				t.Errorf("DecodeWrappedKey() error = %v, want %v", err, ErrWrappedKeyMalformed)
			}
		})
	}
}

// TestEncrypt tests the AES-256-GCM encryption function
func TestEncrypt(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	plaintext := []byte("session note content to encrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}

	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext should not equal plaintext")
	}

	// Verify ciphertext includes authentication tag (16 bytes overhead)
	expectedMinLen := len(plaintext) + 16
	if len(ciphertext) < expectedMinLen {
		t.Errorf("Encrypt() ciphertext length = %d, want >= %d", len(ciphertext), expectedMinLen)
	}
}

// TestEncryptInvalidKeyLength tests that Encrypt rejects invalid key lengths
func TestEncryptInvalidKeyLength(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"too short (16 bytes)", 16, ErrInvalidKeyLength},
		{"too short (24 bytes)", 24, ErrInvalidKeyLength},
		{"too long (48 bytes)", 48, ErrInvalidKeyLength},
		{"empty key", 0, ErrInvalidKeyLength},
	}

	plaintext := []byte("test data")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keyLen)
			_, _, err := Encrypt(key, plaintext)
			if err != tt.wantErr {
				t.Errorf("Encrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestDecrypt tests the AES-256-GCM decryption function
func TestDecrypt(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	plaintext := []byte("session note content to encrypt and decrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	decrypted, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

// TestDecryptInvalidKey tests that decryption fails with wrong key
func TestDecryptInvalidKey(t *testing.T) {
	key := make([]byte, KeyLength)
	wrongKey := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if _, err := rand.Read(wrongKey); err != nil {
		t.Fatalf("failed to generate wrong key: %v", err)
	}

	ciphertext, nonce, err := Encrypt(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = Decrypt(wrongKey, ciphertext, nonce)
	if err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

// TestDecryptInvalidNonceLength tests that Decrypt rejects invalid nonce lengths
func TestDecryptInvalidNonceLength(t *testing.T) {
	key := make([]byte, KeyLength)
	ciphertext := make([]byte, 32)

	tests := []struct {
		name     string
		nonceLen int
	}{
		{"too short (8 bytes)", 8},
		{"too long (16 bytes)", 16},
		{"empty nonce", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce := make([]byte, tt.nonceLen)
			_, err := Decrypt(key, ciphertext, nonce)
			if err != ErrInvalidNonceLength {
				t.Errorf("Decrypt() error = %v, want %v", err, ErrInvalidNonceLength)
			}
		})
	}
}

// TestDecryptCiphertextTooShort tests that Decrypt handles short ciphertext
func TestDecryptCiphertextTooShort(t *testing.T) {
	key := make([]byte, KeyLength)
	nonce := make([]byte, NonceLength)

	shortCiphertext := make([]byte, 10)

	_, err := Decrypt(key, shortCiphertext, nonce)
	if err != ErrCiphertextTooShort {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrCiphertextTooShort)
	}
}

// TestDecryptTamperedCiphertext tests that tampering is detected
func TestDecryptTamperedCiphertext(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ciphertext, nonce, err := Encrypt(key, []byte("record content that should be protected"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0x01

	_, err = Decrypt(key, tampered, nonce)
	if err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with tampered ciphertext error = %v, want %v", err, ErrDecryptionFailed)
	}
}

// TestEncryptDecryptRoundTrip tests multiple encrypt/decrypt cycles
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("x")},
		{"medium", []byte("Client reported feeling more settled this week after resuming morning walks.")},
		{"large", make([]byte, 10000)}, // 10KB
		{"binary", []byte{0x00, 0xFF, 0x01, 0xFE, 0x02, 0xFD}},
	}

	if _, err := rand.Read(testCases[3].plaintext); err != nil {
		t.Fatalf("failed to generate random data: %v", err)
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(key, tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			decrypted, err := Decrypt(key, ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}

			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("Round trip failed: got length %d, want length %d", len(decrypted), len(tc.plaintext))
			}
		})
	}
}

// TestEncryptProducesUniqueNonce tests that each encryption produces a unique nonce
func TestEncryptProducesUniqueNonce(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	plaintext := []byte("test data")
	nonces := make(map[string]bool)

	for i := 0; i < 100; i++ {
		_, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}

		nonceStr := string(nonce)
		if nonces[nonceStr] {
			t.Errorf("Encrypt() produced duplicate nonce on iteration %d", i)
		}
		nonces[nonceStr] = true
	}
}

// TestSecureWipe tests that SecureWipe zeros out memory
func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	SecureWipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
		}
	}
}

// TestSecureWipeEmptySlice tests SecureWipe with empty slice
func TestSecureWipeEmptySlice(t *testing.T) {
	// Should not panic on empty slice
	SecureWipe([]byte{})

	// Should not panic on nil slice
	var nilData []byte
	SecureWipe(nilData)
}
