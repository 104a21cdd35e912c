package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/keystore"
)

const testPassphrase = "Correct-Horse-1!"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	base := t.TempDir()
	ks, err := keystore.OpenFile(filepath.Join(base, "keys"))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	return New(filepath.Join(base, "vault"), ks)
}

func newUnlockedVault(t *testing.T) *Vault {
	t.Helper()
	v := newTestVault(t)
	if err := v.Create(context.Background(), testPassphrase); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return v
}

func TestCreateUnlockLifecycle(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	if got := v.State(); got != StateNoVault {
		t.Fatalf("State() = %v, want %v", got, StateNoVault)
	}

	if err := v.Create(ctx, testPassphrase); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := v.State(); got != StateUnlocked {
		t.Errorf("State() after create = %v, want %v", got, StateUnlocked)
	}
	if v.IsLocked() {
		t.Error("IsLocked() = true after create")
	}

	v.Lock(ctx)
	if got := v.State(); got != StateReady {
		t.Errorf("State() after lock = %v, want %v", got, StateReady)
	}
	if !v.IsLocked() {
		t.Error("IsLocked() = false after lock")
	}

	if err := v.Unlock(ctx, testPassphrase); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if got := v.State(); got != StateUnlocked {
		t.Errorf("State() after unlock = %v, want %v", got, StateUnlocked)
	}
}

func TestCreateRejectsExistingVault(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)

	if err := v.Create(ctx, testPassphrase); !errors.Is(err, ErrVaultExists) {
		t.Errorf("Create() on unlocked vault error = %v, want %v", err, ErrVaultExists)
	}

	v.Lock(ctx)
	if err := v.Create(ctx, testPassphrase); !errors.Is(err, ErrVaultExists) {
		t.Errorf("Create() on ready vault error = %v, want %v", err, ErrVaultExists)
	}
}

func TestCreateRejectsWeakPassphrase(t *testing.T) {
	v := newTestVault(t)
	err := v.Create(context.Background(), "short")
	if !errors.Is(err, ErrPassphraseTooShort) {
		t.Errorf("Create() error = %v, want %v", err, ErrPassphraseTooShort)
	}
	if got := v.State(); got != StateNoVault {
		t.Errorf("State() after rejected create = %v, want %v", got, StateNoVault)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	v.Lock(ctx)

	if err := v.Unlock(ctx, "definitely-wrong-1!"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("Unlock() with wrong passphrase error = %v, want %v", err, ErrInvalidPassphrase)
	}
	if !v.IsLocked() {
		t.Error("vault unlocked after failed attempt")
	}

	// The failure leaves an audit entry, visible after a real unlock.
	if err := v.Unlock(ctx, testPassphrase); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	entries, err := v.ListAuditEntries(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	found := false
	for _, e := range entries {
		if e.EventType == audit.EventUnlockFailed && e.Outcome == audit.OutcomeFailure {
			found = true
		}
	}
	if !found {
		t.Error("no unlock_failed entry in audit log")
	}
}

func TestUnlockCorruptedWrappedKey(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	v.Lock(ctx)

	// Overwrite the wrapped key with garbage of valid shape. The
	// correct passphrase must now fail identically to a wrong one.
	garbage := crypto.WrappedVaultKey{
		Nonce:      make([]byte, crypto.NonceLength),
		Ciphertext: bytes.Repeat([]byte{0xAB}, 48),
	}
	if err := v.ks.StoreWrappedKey(garbage); err != nil {
		t.Fatalf("StoreWrappedKey() error = %v", err)
	}

	if err := v.Unlock(ctx, testPassphrase); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Unlock() with corrupted key error = %v, want %v", err, ErrInvalidPassphrase)
	}
}

func TestFailClosedWhenLocked(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	v.Lock(ctx)

	if _, err := v.ListClients(ctx); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("ListClients() error = %v, want %v", err, ErrVaultLocked)
	}
	if _, err := v.CreateClient(ctx, "A. Client"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("CreateClient() error = %v, want %v", err, ErrVaultLocked)
	}
	if _, err := v.PathSalt(); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("PathSalt() error = %v, want %v", err, ErrVaultLocked)
	}
	if _, err := v.VerifyAuditChain(ctx); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("VerifyAuditChain() error = %v, want %v", err, ErrVaultLocked)
	}
}

func TestIdleTimeoutLocksVault(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)

	v.SetIdleTimeout(time.Nanosecond)
	time.Sleep(time.Millisecond)

	if _, err := v.ListClients(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("ListClients() after idle timeout error = %v, want %v", err, ErrSessionExpired)
	}
	if !v.IsLocked() {
		t.Error("vault still unlocked after session expiry")
	}
	// Subsequent calls see a plainly locked vault.
	if _, err := v.ListClients(ctx); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("ListClients() error = %v, want %v", err, ErrVaultLocked)
	}
}

func TestKeychainLostRecovery(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	v.Lock(ctx)

	if err := v.ks.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := v.State(); got != StateKeychainLost {
		t.Fatalf("State() = %v, want %v", got, StateKeychainLost)
	}
	if err := v.Unlock(ctx, testPassphrase); !errors.Is(err, ErrKeychainLost) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrKeychainLost)
	}
	if err := v.Create(ctx, testPassphrase); !errors.Is(err, ErrKeychainLost) {
		t.Errorf("Create() error = %v, want %v", err, ErrKeychainLost)
	}

	// Stale-keychain recovery does not apply in this state.
	if err := v.ClearStaleKeystore(true); err == nil {
		t.Error("ClearStaleKeystore() succeeded in keychain-lost state")
	}

	if err := v.DeleteVaultDatabase(false); !errors.Is(err, ErrConfirmRequired) {
		t.Errorf("DeleteVaultDatabase() without confirm error = %v, want %v", err, ErrConfirmRequired)
	}
	if err := v.DeleteVaultDatabase(true); err != nil {
		t.Fatalf("DeleteVaultDatabase() error = %v", err)
	}
	if got := v.State(); got != StateNoVault {
		t.Errorf("State() after recovery = %v, want %v", got, StateNoVault)
	}

	// A fresh vault can be created again.
	if err := v.Create(ctx, testPassphrase); err != nil {
		t.Fatalf("Create() after recovery error = %v", err)
	}
}

func TestStaleKeychainRecovery(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	v.Lock(ctx)

	if err := os.Remove(v.dbPath()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := v.State(); got != StateStaleKeychain {
		t.Fatalf("State() = %v, want %v", got, StateStaleKeychain)
	}
	if err := v.Unlock(ctx, testPassphrase); !errors.Is(err, ErrStaleKeychain) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrStaleKeychain)
	}
	if err := v.Create(ctx, testPassphrase); !errors.Is(err, ErrStaleKeychain) {
		t.Errorf("Create() error = %v, want %v", err, ErrStaleKeychain)
	}

	if err := v.DeleteVaultDatabase(true); err == nil {
		t.Error("DeleteVaultDatabase() succeeded in stale-keychain state")
	}
	if err := v.ClearStaleKeystore(false); !errors.Is(err, ErrConfirmRequired) {
		t.Errorf("ClearStaleKeystore() without confirm error = %v, want %v", err, ErrConfirmRequired)
	}
	if err := v.ClearStaleKeystore(true); err != nil {
		t.Fatalf("ClearStaleKeystore() error = %v", err)
	}
	if got := v.State(); got != StateNoVault {
		t.Errorf("State() after recovery = %v, want %v", got, StateNoVault)
	}
}

func TestChangePassphrase(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)

	c, err := v.CreateClient(ctx, "J. Doe")
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	const newPassphrase = "Battery-Staple-2!"
	if err := v.ChangePassphrase(ctx, testPassphrase, newPassphrase); err != nil {
		t.Fatalf("ChangePassphrase() error = %v", err)
	}
	v.Lock(ctx)

	if err := v.Unlock(ctx, testPassphrase); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Unlock() with old passphrase error = %v, want %v", err, ErrInvalidPassphrase)
	}
	if err := v.Unlock(ctx, newPassphrase); err != nil {
		t.Fatalf("Unlock() with new passphrase error = %v", err)
	}

	// The vault key is unchanged: data written before rotation decrypts.
	got, err := v.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Name != "J. Doe" {
		t.Errorf("client name = %q, want %q", got.Name, "J. Doe")
	}
}

func TestChangePassphraseWrongCurrent(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	err := v.ChangePassphrase(ctx, "not-the-passphrase-1", "Battery-Staple-2!")
	if !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("ChangePassphrase() error = %v, want %v", err, ErrInvalidPassphrase)
	}
}

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		valid      bool
		strength   PassphraseStrength
	}{
		{"too short", "abc", false, PassphraseWeak},
		{"minimal", "aaaaaaaa", true, PassphraseWeak},
		{"fair length", "aaaaaaaaaaaa", true, PassphraseFair},
		{"good mix", "correct-horse12", true, PassphraseGood},
		{"strong", "Correct-Horse-Battery-1!", true, PassphraseStrong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePassphrase(tt.passphrase)
			if result.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v", result.Valid, tt.valid)
			}
			if result.Strength != tt.strength {
				t.Errorf("Strength = %v, want %v", result.Strength, tt.strength)
			}
		})
	}
}

func TestDatabaseNeverContainsPlaintext(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)

	const marker = "ZF9-PLAINTEXT-MARKER-31"
	c, err := v.CreateClient(ctx, "Client "+marker)
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if _, err := v.CreateRecord(ctx, c.ID, "Session note "+marker, `{"note":"`+marker+`"}`); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	dbPath := v.dbPath()
	v.Lock(ctx)

	raw, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if bytes.Contains(raw, []byte(marker)) {
		t.Error("database file contains plaintext content")
	}
}

func TestAuditChainAcrossLifecycle(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)

	if _, err := v.CreateClient(ctx, "A. Client"); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	v.Lock(ctx)
	if err := v.Unlock(ctx, testPassphrase); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	result, err := v.VerifyAuditChain(ctx)
	if err != nil {
		t.Fatalf("VerifyAuditChain() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("chain invalid, broken at %d", result.BrokenAt)
	}

	entries, err := v.ListAuditEntries(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	want := map[audit.EventType]bool{
		audit.EventVaultCreated:  false,
		audit.EventClientCreated: false,
		audit.EventVaultLocked:   false,
		audit.EventVaultUnlocked: false,
	}
	for _, e := range entries {
		if _, ok := want[e.EventType]; ok {
			want[e.EventType] = true
		}
	}
	for event, seen := range want {
		if !seen {
			t.Errorf("missing %s entry in audit chain", event)
		}
	}
}
