// Package audit maintains the tamper-evident audit chain.
//
// Entries are append-only rows in the vault database, hash-linked so
// that deleting, reordering, or editing any entry is detectable with
// the exact break position. Entries are content-free: they carry event
// types, opaque resource IDs, detection IDs, and salted path hashes,
// never record text or raw filesystem paths.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evidifyai/evidify/pkg/crypto"
)

// Genesis is the previous-hash value of the first chain entry.
const Genesis = "genesis"

// EventType enumerates auditable events. Free-text event names are not
// accepted; the chain must stay queryable.
type EventType string

// Audit event types.
const (
	EventVaultCreated      EventType = "vault_created"
	EventVaultUnlocked     EventType = "vault_unlocked"
	EventVaultLocked       EventType = "vault_locked"
	EventUnlockFailed      EventType = "unlock_failed"
	EventPassphraseChanged EventType = "passphrase_changed"
	EventKeystoreCleared   EventType = "keystore_cleared"
	EventDatabaseDeleted   EventType = "database_deleted"

	EventClientCreated EventType = "client_created"
	EventClientUpdated EventType = "client_updated"

	EventRecordCreated EventType = "record_created"
	EventRecordUpdated EventType = "record_updated"
	EventRecordSigned  EventType = "record_signed"
	EventRecordDeleted EventType = "record_deleted"

	EventAnalysisRun       EventType = "analysis_run"
	EventDetectionResolved EventType = "detection_resolved"
	EventPeerAnalysis      EventType = "ai_analysis_run"

	EventExportRequested EventType = "export_requested"
)

// ResourceType enumerates what an entry refers to.
type ResourceType string

// Audit resource types.
const (
	ResourceVault  ResourceType = "vault"
	ResourceClient ResourceType = "client"
	ResourceRecord ResourceType = "record"
	ResourceExport ResourceType = "export"
)

// Outcome enumerates how the audited operation ended.
type Outcome string

// Audit outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// ChainBrokenError reports a linkage failure: the entry at Sequence has
// a previous-hash that does not match its predecessor, or the sequence
// numbering has a gap.
type ChainBrokenError struct {
	Sequence int64
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("audit: chain broken at entry %d", e.Sequence)
}

// HashMismatchError reports that the entry at Sequence does not hash to
// its stored entry hash, meaning the entry itself was altered.
type HashMismatchError struct {
	Sequence int64
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("audit: entry hash mismatch at entry %d", e.Sequence)
}

// Entry is one immutable chain row.
type Entry struct {
	Sequence     int64        `json:"sequence"`
	ID           string       `json:"id"`
	Timestamp    string       `json:"timestamp"` // RFC 3339 nanosecond precision
	EventType    EventType    `json:"event_type"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Outcome      Outcome      `json:"outcome"`
	DetectionIDs []string     `json:"detection_ids,omitempty"`
	PathClass    string       `json:"path_class,omitempty"`
	PathHash     string       `json:"path_hash,omitempty"`
	PreviousHash string       `json:"previous_hash"`
	EntryHash    string       `json:"entry_hash"`
}

// Params describes the event to append.
type Params struct {
	EventType    EventType
	ResourceType ResourceType
	ResourceID   string
	Outcome      Outcome
	DetectionIDs []string
	PathClass    string
	PathHash     string
}

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Append accepts either so callers can chain an audit entry into their
// own transaction (a signed record and its audit entry must commit
// together).
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Log serializes appends to the chain. All writers against one vault
// database must share the same Log.
type Log struct {
	mu  sync.Mutex
	dir string
}

// NewLog creates a chain writer. dir is the vault directory used for
// the pre-append disk space check; empty disables the check.
func NewLog(dir string) *Log {
	return &Log{dir: dir}
}

// CreateSchema creates the append-only chain table.
func CreateSchema(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			sequence      INTEGER PRIMARY KEY,
			id            TEXT NOT NULL UNIQUE,
			timestamp     TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id   TEXT NOT NULL DEFAULT '',
			outcome       TEXT NOT NULL,
			detection_ids TEXT NOT NULL DEFAULT '',
			path_class    TEXT NOT NULL DEFAULT '',
			path_hash     TEXT NOT NULL DEFAULT '',
			previous_hash TEXT NOT NULL,
			entry_hash    TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("audit: failed to create schema: %w", err)
	}
	return nil
}

// Append writes the next chain entry. When q is a transaction the entry
// commits or rolls back with the caller's other writes.
func (l *Log) Append(ctx context.Context, q Querier, p Params) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkDiskSpace(); err != nil {
		return nil, err
	}

	var lastSeq int64
	prevHash := Genesis
	row := q.QueryRowContext(ctx,
		`SELECT sequence, entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	switch err := row.Scan(&lastSeq, &prevHash); {
	case err == sql.ErrNoRows:
		lastSeq, prevHash = 0, Genesis
	case err != nil:
		return nil, fmt.Errorf("audit: failed to read chain tail: %w", err)
	}

	entry := &Entry{
		Sequence:     lastSeq + 1,
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		EventType:    p.EventType,
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		Outcome:      p.Outcome,
		DetectionIDs: p.DetectionIDs,
		PathClass:    p.PathClass,
		PathHash:     p.PathHash,
		PreviousHash: prevHash,
	}
	entry.EntryHash = crypto.ChainEntryHash(prevHash, canonicalData(entry))

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries
			(sequence, id, timestamp, event_type, resource_type, resource_id,
			 outcome, detection_ids, path_class, path_hash, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Sequence, entry.ID, entry.Timestamp,
		string(entry.EventType), string(entry.ResourceType), entry.ResourceID,
		string(entry.Outcome), strings.Join(entry.DetectionIDs, ","),
		entry.PathClass, entry.PathHash, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to append entry: %w", err)
	}
	return entry, nil
}

// canonicalData builds the pipe-joined serialization covered by the
// entry hash: every field except the hash itself, in fixed order.
func canonicalData(e *Entry) []byte {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Sequence,
		e.ID,
		e.Timestamp,
		e.EventType,
		e.ResourceType,
		e.ResourceID,
		e.Outcome,
		strings.Join(e.DetectionIDs, ","),
		e.PathClass,
		e.PathHash,
	)
	return []byte(data)
}

// VerifyResult summarizes a chain verification pass.
type VerifyResult struct {
	Valid    bool  `json:"valid"`
	Entries  int64 `json:"entries"`
	Verified int64 `json:"verified"`
	// BrokenAt is the sequence number of the first bad entry, 0 when
	// the chain is intact. Entries before it are still trustworthy and
	// remain readable.
	BrokenAt int64 `json:"broken_at,omitempty"`
}

// Verify walks the whole chain in sequence order and checks numbering
// continuity, previous-hash linkage, and each entry's own hash. The
// returned error is a *ChainBrokenError or *HashMismatchError carrying
// the exact sequence number of the first bad entry.
func (l *Log) Verify(ctx context.Context, q Querier) (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := q.QueryContext(ctx, `
		SELECT sequence, id, timestamp, event_type, resource_type, resource_id,
		       outcome, detection_ids, path_class, path_hash, previous_hash, entry_hash
		FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read chain: %w", err)
	}
	defer rows.Close()

	result := &VerifyResult{Valid: true}
	expectedSeq := int64(1)
	expectedPrev := Genesis

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result.Entries++

		if entry.Sequence != expectedSeq || entry.PreviousHash != expectedPrev {
			result.Valid = false
			result.BrokenAt = entry.Sequence
			return result, &ChainBrokenError{Sequence: entry.Sequence}
		}
		if crypto.ChainEntryHash(entry.PreviousHash, canonicalData(&entry)) != entry.EntryHash {
			result.Valid = false
			result.BrokenAt = entry.Sequence
			return result, &HashMismatchError{Sequence: entry.Sequence}
		}

		result.Verified++
		expectedPrev = entry.EntryHash
		expectedSeq++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to walk chain: %w", err)
	}
	return result, nil
}

// ListEntries returns entries in sequence order. limit 0 means all;
// offset skips from the start.
func (l *Log) ListEntries(ctx context.Context, q Querier, limit, offset int64) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := q.QueryContext(ctx, `
		SELECT sequence, id, timestamp, event_type, resource_type, resource_id,
		       outcome, detection_ids, path_class, path_hash, previous_hash, entry_hash
		FROM audit_entries ORDER BY sequence ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to walk entries: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var eventType, resourceType, outcome, detectionIDs string
	err := rows.Scan(&e.Sequence, &e.ID, &e.Timestamp, &eventType, &resourceType,
		&e.ResourceID, &outcome, &detectionIDs, &e.PathClass, &e.PathHash,
		&e.PreviousHash, &e.EntryHash)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: failed to scan entry: %w", err)
	}
	e.EventType = EventType(eventType)
	e.ResourceType = ResourceType(resourceType)
	e.Outcome = Outcome(outcome)
	if detectionIDs != "" {
		e.DetectionIDs = strings.Split(detectionIDs, ",")
	}
	return e, nil
}

// Export renders entries in the given format ("json" or "csv"),
// filtered to [since, until] when non-zero.
func (l *Log) Export(ctx context.Context, q Querier, format string, since, until time.Time) ([]byte, error) {
	entries, err := l.ListEntries(ctx, q, 0, 0)
	if err != nil {
		return nil, err
	}

	var filtered []Entry
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		filtered = append(filtered, e)
	}

	switch format {
	case "csv":
		return formatCSV(filtered), nil
	case "json":
		return json.MarshalIndent(filtered, "", "  ")
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// formatCSV renders entries as CSV with escaping against spreadsheet
// formula injection.
func formatCSV(entries []Entry) []byte {
	var b strings.Builder
	b.WriteString("sequence,timestamp,event_type,resource_type,resource_id,outcome,detection_ids,path_class,path_hash,entry_hash\n")
	for _, e := range entries {
		fields := []string{
			fmt.Sprintf("%d", e.Sequence),
			e.Timestamp,
			string(e.EventType),
			string(e.ResourceType),
			e.ResourceID,
			string(e.Outcome),
			strings.Join(e.DetectionIDs, " "),
			e.PathClass,
			e.PathHash,
			e.EntryHash,
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(csvEscape(f))
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// csvEscape escapes a field for CSV output to prevent injection attacks
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	// Quote fields starting with =, +, -, @ to prevent formula injection
	needsQuoting := false
	firstChar := field[0]
	if firstChar == '=' || firstChar == '+' || firstChar == '-' || firstChar == '@' {
		needsQuoting = true
	}

	if !needsQuoting {
		for _, c := range field {
			if c == ',' || c == '"' || c == '\n' || c == '\r' {
				needsQuoting = true
				break
			}
		}
	}

	if !needsQuoting {
		return field
	}

	var escaped strings.Builder
	escaped.WriteByte('"')
	for _, c := range field {
		if c == '"' {
			escaped.WriteString(`""`)
		} else {
			escaped.WriteRune(c)
		}
	}
	escaped.WriteByte('"')
	return escaped.String()
}
