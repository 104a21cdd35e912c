// Package vault manages the encrypted clinical record store: a local
// SQLite database whose sensitive columns are sealed with AES-256-GCM
// under a vault key, itself wrapped by a passphrase-derived KEK and
// held in the OS keychain.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/keystore"

	_ "modernc.org/sqlite"
)

// Constants
const (
	DBFileName = "evidify.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	SchemaVersion = 1

	// DefaultIdleTimeout is how long an unlocked vault may sit unused
	// before the next operation locks it and fails closed.
	DefaultIdleTimeout = 15 * time.Minute
)

// Errors
var (
	ErrVaultExists          = errors.New("vault: vault already exists")
	ErrVaultNotFound        = errors.New("vault: no vault at this path")
	ErrVaultLocked          = errors.New("vault: vault is locked")
	ErrVaultAlreadyUnlocked = errors.New("vault: vault is already unlocked")
	ErrSessionExpired       = errors.New("vault: session expired, vault locked")
	ErrInvalidPassphrase    = errors.New("vault: invalid passphrase")
	ErrKeychainLost         = errors.New("vault: database exists but keychain entries are missing")
	ErrStaleKeychain        = errors.New("vault: keychain entries exist but database is missing")
	ErrConfirmRequired      = errors.New("vault: destructive recovery requires explicit confirmation")
	ErrInsufficientDisk     = errors.New("vault: insufficient disk space")
)

// State is the observable lifecycle state of the vault. Determining it
// never mutates anything on disk or in the keychain.
type State int

const (
	// StateNoVault means neither database nor keychain entries exist.
	StateNoVault State = iota
	// StateReady means database and keychain entries both exist; the
	// vault can be unlocked with the passphrase.
	StateReady
	// StateUnlocked means the vault key is resident in memory.
	StateUnlocked
	// StateKeychainLost means the database exists but the wrapped key
	// is gone from the keychain. The data is unrecoverable without a
	// backup; the only local recovery is deleting the database.
	StateKeychainLost
	// StateStaleKeychain means keychain entries survived a database
	// deletion. Recovery clears them so a fresh vault can be created.
	StateStaleKeychain
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNoVault:
		return "no_vault"
	case StateReady:
		return "ready"
	case StateUnlocked:
		return "unlocked"
	case StateKeychainLost:
		return "keychain_lost"
	case StateStaleKeychain:
		return "stale_keychain"
	default:
		return "unknown"
	}
}

// Vault manages the encrypted record store.
type Vault struct {
	dir string          // vault directory (e.g. ~/.evidify)
	ks  *keystore.Store // OS keychain holding wrapped key + KDF salt

	mu       sync.Mutex
	key      []byte   // vault key, resident only while unlocked
	pathSalt []byte   // derived salt for path hashing in audit entries
	db       *sql.DB  // open only while unlocked
	lastUsed time.Time
	timeout  time.Duration

	auditLog *audit.Log
}

// New creates a vault handle for the given directory. Nothing is
// touched on disk until Create or Unlock.
func New(dir string, ks *keystore.Store) *Vault {
	return &Vault{
		dir:      dir,
		ks:       ks,
		timeout:  DefaultIdleTimeout,
		auditLog: audit.NewLog(dir),
	}
}

// Dir returns the vault directory.
func (v *Vault) Dir() string {
	return v.dir
}

// SetIdleTimeout overrides the idle lock timeout. Zero disables it.
func (v *Vault) SetIdleTimeout(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timeout = d
}

// State reports the current lifecycle state without side effects.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *Vault) stateLocked() State {
	if v.key != nil {
		return StateUnlocked
	}
	dbExists := fileExists(v.dbPath())
	ksReady := v.ks.HasEntries()
	switch {
	case dbExists && ksReady:
		return StateReady
	case dbExists:
		return StateKeychainLost
	case ksReady:
		return StateStaleKeychain
	default:
		return StateNoVault
	}
}

func (v *Vault) dbPath() string {
	return filepath.Join(v.dir, DBFileName)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Create initializes a new vault:
//  1. Generate KDF salt and derive the KEK from the passphrase
//  2. Generate the vault key and wrap it with the KEK
//  3. Create the database, schema and metadata row
//  4. Store salt and wrapped key in the OS keychain LAST
//
// The keychain write is last so a failure at any earlier step leaves
// no keychain residue; a failure at the final step removes the
// database again, returning to the no-vault state. The vault is left
// unlocked on success.
func (v *Vault) Create(ctx context.Context, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.stateLocked() {
	case StateNoVault:
	case StateKeychainLost:
		return ErrKeychainLost
	case StateStaleKeychain:
		return ErrStaleKeychain
	default:
		return ErrVaultExists
	}

	if result := ValidatePassphrase(passphrase); !result.Valid {
		return result.Err
	}

	if err := v.checkDiskSpaceForWrite(1024 * 1024); err != nil {
		return err
	}

	if err := os.MkdirAll(v.dir, DirMode); err != nil {
		return fmt.Errorf("vault: failed to create vault directory: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	kek := crypto.DeriveKEK([]byte(passphrase), salt)
	defer crypto.SecureWipe(kek)

	vaultKey, err := crypto.NewVaultKey()
	if err != nil {
		return fmt.Errorf("vault: failed to generate vault key: %w", err)
	}

	wrapped, err := crypto.Wrap(vaultKey, kek)
	if err != nil {
		crypto.SecureWipe(vaultKey)
		return fmt.Errorf("vault: failed to wrap vault key: %w", err)
	}

	db, err := openDatabase(v.dbPath())
	if err != nil {
		crypto.SecureWipe(vaultKey)
		return err
	}

	cleanup := func() {
		db.Close()
		crypto.SecureWipe(vaultKey)
		os.Remove(v.dbPath())
	}

	if err := v.createSchema(ctx, db); err != nil {
		cleanup()
		return fmt.Errorf("vault: failed to create schema: %w", err)
	}
	if err := os.Chmod(v.dbPath(), FileMode); err != nil {
		cleanup()
		return fmt.Errorf("vault: failed to set database permissions: %w", err)
	}

	// Keychain writes come last.
	if err := v.ks.StoreSalt(salt); err != nil {
		cleanup()
		return fmt.Errorf("vault: failed to store salt in keychain: %w", err)
	}
	if err := v.ks.StoreWrappedKey(wrapped); err != nil {
		_ = v.ks.Clear()
		cleanup()
		return fmt.Errorf("vault: failed to store wrapped key in keychain: %w", err)
	}

	pathSalt, err := crypto.DerivePathSalt(vaultKey)
	if err != nil {
		cleanup()
		_ = v.ks.Clear()
		return fmt.Errorf("vault: failed to derive path salt: %w", err)
	}

	v.key = vaultKey
	v.pathSalt = pathSalt
	v.db = db
	v.lastUsed = time.Now()

	_, err = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventVaultCreated,
		ResourceType: audit.ResourceVault,
		Outcome:      audit.OutcomeSuccess,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record vault creation: %v\n", err)
	}

	return nil
}

// Unlock derives the KEK from the passphrase and the stored salt,
// unwraps the vault key and opens the database. A wrong passphrase and
// a corrupted wrapped key are indistinguishable: both return
// ErrInvalidPassphrase.
func (v *Vault) Unlock(ctx context.Context, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.stateLocked() {
	case StateReady:
	case StateUnlocked:
		return ErrVaultAlreadyUnlocked
	case StateKeychainLost:
		return ErrKeychainLost
	case StateStaleKeychain:
		return ErrStaleKeychain
	default:
		return ErrVaultNotFound
	}

	salt, err := v.ks.LoadSalt()
	if err != nil {
		return fmt.Errorf("vault: failed to load salt from keychain: %w", err)
	}
	wrapped, err := v.ks.LoadWrappedKey()
	if err != nil {
		if errors.Is(err, crypto.ErrWrappedKeyMalformed) {
			// A mangled keychain blob must look exactly like a wrong
			// passphrase to the caller.
			v.recordUnlockFailure(ctx)
			return ErrInvalidPassphrase
		}
		return fmt.Errorf("vault: failed to load wrapped key from keychain: %w", err)
	}

	kek := crypto.DeriveKEK([]byte(passphrase), salt)
	defer crypto.SecureWipe(kek)

	vaultKey, err := crypto.Unwrap(wrapped, kek)
	if err != nil {
		if errors.Is(err, crypto.ErrUnwrapFailed) {
			v.recordUnlockFailure(ctx)
			return ErrInvalidPassphrase
		}
		return fmt.Errorf("vault: failed to unwrap vault key: %w", err)
	}

	pathSalt, err := crypto.DerivePathSalt(vaultKey)
	if err != nil {
		crypto.SecureWipe(vaultKey)
		return fmt.Errorf("vault: failed to derive path salt: %w", err)
	}

	db, err := openDatabase(v.dbPath())
	if err != nil {
		crypto.SecureWipe(vaultKey)
		crypto.SecureWipe(pathSalt)
		return err
	}

	v.key = vaultKey
	v.pathSalt = pathSalt
	v.db = db
	v.lastUsed = time.Now()

	_, err = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventVaultUnlocked,
		ResourceType: audit.ResourceVault,
		Outcome:      audit.OutcomeSuccess,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record unlock: %v\n", err)
	}

	return nil
}

// recordUnlockFailure appends an unlock_failed entry best-effort. The
// entry carries no hint of why derivation failed.
func (v *Vault) recordUnlockFailure(ctx context.Context) {
	db, err := openDatabase(v.dbPath())
	if err != nil {
		return
	}
	defer db.Close()
	_, _ = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventUnlockFailed,
		ResourceType: audit.ResourceVault,
		Outcome:      audit.OutcomeFailure,
	})
}

// Lock wipes the vault key and closes the database. Safe to call when
// already locked.
func (v *Vault) Lock(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked(ctx)
}

func (v *Vault) lockLocked(ctx context.Context) {
	if v.key != nil && v.db != nil {
		_, _ = v.auditLog.Append(ctx, v.db, audit.Params{
			EventType:    audit.EventVaultLocked,
			ResourceType: audit.ResourceVault,
			Outcome:      audit.OutcomeSuccess,
		})
	}
	if v.key != nil {
		crypto.SecureWipe(v.key)
		v.key = nil
	}
	if v.pathSalt != nil {
		crypto.SecureWipe(v.pathSalt)
		v.pathSalt = nil
	}
	if v.db != nil {
		v.db.Close()
		v.db = nil
	}
}

// IsLocked reports whether the vault key is absent from memory.
func (v *Vault) IsLocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key == nil
}

// session returns the open database after the fail-closed checks:
// locked vaults error immediately, and an unlocked vault past its idle
// timeout locks itself before erroring. Callers must hold v.mu.
func (v *Vault) session(ctx context.Context) (*sql.DB, error) {
	if v.key == nil {
		return nil, ErrVaultLocked
	}
	if v.timeout > 0 && time.Since(v.lastUsed) > v.timeout {
		v.lockLocked(ctx)
		return nil, ErrSessionExpired
	}
	v.lastUsed = time.Now()
	return v.db, nil
}

// ChangePassphrase rewraps the existing vault key under a KEK derived
// from the new passphrase and a fresh salt. Record data is untouched;
// only the keychain entries change.
func (v *Vault) ChangePassphrase(ctx context.Context, current, next string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}

	if result := ValidatePassphrase(next); !result.Valid {
		return result.Err
	}

	// Verify the current passphrase against the stored wrapped key.
	oldSalt, err := v.ks.LoadSalt()
	if err != nil {
		return fmt.Errorf("vault: failed to load salt from keychain: %w", err)
	}
	wrapped, err := v.ks.LoadWrappedKey()
	if err != nil {
		return fmt.Errorf("vault: failed to load wrapped key from keychain: %w", err)
	}
	oldKEK := crypto.DeriveKEK([]byte(current), oldSalt)
	check, err := crypto.Unwrap(wrapped, oldKEK)
	crypto.SecureWipe(oldKEK)
	if err != nil {
		return ErrInvalidPassphrase
	}
	crypto.SecureWipe(check)

	newSalt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	newKEK := crypto.DeriveKEK([]byte(next), newSalt)
	defer crypto.SecureWipe(newKEK)

	rewrapped, err := crypto.Wrap(v.key, newKEK)
	if err != nil {
		return fmt.Errorf("vault: failed to rewrap vault key: %w", err)
	}

	if err := v.ks.StoreWrappedKey(rewrapped); err != nil {
		return fmt.Errorf("vault: failed to store rewrapped key: %w", err)
	}
	if err := v.ks.StoreSalt(newSalt); err != nil {
		// The wrapped key already points at the new KEK; without the
		// matching salt the vault is unopenable. Put the old pair back.
		_ = v.ks.StoreWrappedKey(wrapped)
		return fmt.Errorf("vault: failed to store new salt: %w", err)
	}

	_, err = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventPassphraseChanged,
		ResourceType: audit.ResourceVault,
		Outcome:      audit.OutcomeSuccess,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record passphrase change: %v\n", err)
	}

	return nil
}

// ClearStaleKeystore removes orphaned keychain entries left behind by
// a deleted database. Refuses to run in any other state, and refuses
// without confirm. There is no database to audit into; the next vault
// created in this directory starts a fresh chain.
func (v *Vault) ClearStaleKeystore(confirm bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stateLocked() != StateStaleKeychain {
		return fmt.Errorf("vault: nothing stale to clear (state %s)", v.stateLocked())
	}
	if !confirm {
		return ErrConfirmRequired
	}
	if err := v.ks.Clear(); err != nil {
		return fmt.Errorf("vault: failed to clear keychain entries: %w", err)
	}
	return nil
}

// DeleteVaultDatabase deletes the encrypted database after the wrapped
// key has been lost from the keychain. The data is unrecoverable
// without the key, so this is the only path back to a usable state.
// Refuses to run in any other state, and refuses without confirm.
func (v *Vault) DeleteVaultDatabase(confirm bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stateLocked() != StateKeychainLost {
		return fmt.Errorf("vault: database deletion only applies after keychain loss (state %s)", v.stateLocked())
	}
	if !confirm {
		return ErrConfirmRequired
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(v.dbPath() + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("vault: failed to delete database: %w", err)
		}
	}
	return nil
}

// openDatabase opens the vault database in single-connection mode.
func openDatabase(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// createSchema creates all tables, including the audit chain.
func (v *Vault) createSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			encrypted_name BLOB NOT NULL,
			encrypted_profile BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL REFERENCES clients(id),
			status TEXT NOT NULL,
			encrypted_content BLOB NOT NULL,
			encrypted_structured BLOB,
			encrypted_detections BLOB,
			content_hash TEXT NOT NULL,
			word_count INTEGER NOT NULL DEFAULT 0,
			signature TEXT,
			signed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_client ON records(client_id)`,
		`CREATE TABLE IF NOT EXISTS attestations (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL REFERENCES records(id),
			detection_id TEXT NOT NULL,
			response TEXT NOT NULL,
			encrypted_note BLOB,
			attested_at TIMESTAMP NOT NULL,
			UNIQUE(record_id, detection_id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := audit.CreateSchema(ctx, db); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (id, schema_version) VALUES (1, ?)`, SchemaVersion)
	return err
}

// encryptWithNonce seals plaintext under the vault key and prepends
// the nonce, storing both as a single blob.
func (v *Vault) encryptWithNonce(plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := crypto.Encrypt(v.key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// decryptWithNonce opens a blob produced by encryptWithNonce.
func (v *Vault) decryptWithNonce(blob []byte) ([]byte, error) {
	if len(blob) < crypto.NonceLength {
		return nil, fmt.Errorf("vault: invalid encrypted data: too short")
	}
	nonce := blob[:crypto.NonceLength]
	ciphertext := blob[crypto.NonceLength:]
	return crypto.Decrypt(v.key, ciphertext, nonce)
}

// PathSalt returns a copy of the derived path-hashing salt. Fails
// closed when locked.
func (v *Vault) PathSalt() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pathSalt == nil {
		return nil, ErrVaultLocked
	}
	out := make([]byte, len(v.pathSalt))
	copy(out, v.pathSalt)
	return out, nil
}

// AppendAudit appends an audit entry outside any caller transaction.
func (v *Vault) AppendAudit(ctx context.Context, p audit.Params) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	_, err = v.auditLog.Append(ctx, db, p)
	return err
}

// VerifyAuditChain verifies the hash chain and reports the exact break
// point if any.
func (v *Vault) VerifyAuditChain(ctx context.Context) (*audit.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.auditLog.Verify(ctx, db)
}

// ListAuditEntries returns chain entries newest-first.
func (v *Vault) ListAuditEntries(ctx context.Context, limit, offset int64) ([]audit.Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.auditLog.ListEntries(ctx, db, limit, offset)
}

// ExportAuditLog renders the chain as JSON or CSV for the given window.
func (v *Vault) ExportAuditLog(ctx context.Context, format string, since, until time.Time) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.auditLog.Export(ctx, db, format, since, until)
}
