package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evidifyai/evidify/pkg/attest"
	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/scan"
)

// Record size limit. Session notes run a few KB; 1 MB is generous.
const MaxContentSize = 1024 * 1024

var (
	ErrClientNotFound    = errors.New("vault: client not found")
	ErrRecordNotFound    = errors.New("vault: record not found")
	ErrRecordSigned      = errors.New("vault: record is signed and immutable")
	ErrDetectionNotFound = errors.New("vault: detection not found on record")
	ErrContentTooLarge   = errors.New("vault: record content too large")
	ErrEmptyClientName   = errors.New("vault: client name must not be empty")
)

// AttestationsIncompleteError reports the unattested critical
// detections blocking a sign.
type AttestationsIncompleteError struct {
	Missing []string
}

func (e *AttestationsIncompleteError) Error() string {
	return fmt.Sprintf("vault: cannot sign, %d critical detection(s) unattested", len(e.Missing))
}

// RecordStatus is the lifecycle status of a record.
type RecordStatus string

const (
	StatusDraft      RecordStatus = "draft"
	StatusDetected   RecordStatus = "detected"
	StatusAttestable RecordStatus = "attestable"
	StatusSigned     RecordStatus = "signed"
)

// Client is a person records are filed under. The name and profile are
// stored encrypted; only the opaque ID appears outside the vault.
type Client struct {
	ID        string
	Name      string
	Profile   *ClientProfile
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientProfile holds optional client details. The whole profile is
// one encrypted JSON blob.
type ClientProfile struct {
	Status       string `json:"status,omitempty"`
	SessionCount int    `json:"session_count,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

// Record is a clinical note. Content, structured content and
// detections are stored encrypted; status and hashes are plaintext
// columns so listing never requires decrypting note bodies.
type Record struct {
	ID          string
	ClientID    string
	Status      RecordStatus
	Content     string
	Structured  string // JSON document, may be empty
	Detections  []scan.Detection
	ContentHash string
	WordCount   int
	Signature   string
	SignedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordSummary is a listing row. No content fields are decrypted.
type RecordSummary struct {
	ID        string
	ClientID  string
	Status    RecordStatus
	WordCount int
	SignedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// wordCount is stored alongside the encrypted content so listings can
// show note length without decrypting anything.
func wordCount(content string) int {
	return len(strings.Fields(content))
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// CreateClient adds a client with an encrypted name.
func (v *Vault) CreateClient(ctx context.Context, name string) (*Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyClientName
	}

	encName, err := v.encryptWithNonce([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt client name: %w", err)
	}

	c := &Client{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	c.UpdatedAt = c.CreatedAt

	_, err = db.ExecContext(ctx, `
		INSERT INTO clients (id, encrypted_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		c.ID, encName, encodeTime(c.CreatedAt), encodeTime(c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("vault: failed to save client: %w", err)
	}

	_, _ = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventClientCreated,
		ResourceType: audit.ResourceClient,
		ResourceID:   c.ID,
		Outcome:      audit.OutcomeSuccess,
	})
	return c, nil
}

// RenameClient replaces a client's encrypted name.
func (v *Vault) RenameClient(ctx context.Context, id, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyClientName
	}

	encName, err := v.encryptWithNonce([]byte(name))
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt client name: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE clients SET encrypted_name = ?, updated_at = ? WHERE id = ?`,
		encName, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("vault: failed to update client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}

	_, _ = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventClientUpdated,
		ResourceType: audit.ResourceClient,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

// GetClient retrieves a client by ID, decrypting the name.
func (v *Vault) GetClient(ctx context.Context, id string) (*Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.getClient(ctx, db, id)
}

func (v *Vault) getClient(ctx context.Context, q audit.Querier, id string) (*Client, error) {
	var encName, encProfile []byte
	var createdAt, updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT encrypted_name, encrypted_profile, created_at, updated_at
		FROM clients WHERE id = ?`, id).
		Scan(&encName, &encProfile, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("vault: failed to read client: %w", err)
	}
	name, err := v.decryptWithNonce(encName)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decrypt client name: %w", err)
	}
	profile, err := v.decodeProfile(encProfile)
	if err != nil {
		return nil, err
	}
	return &Client{
		ID:        id,
		Name:      string(name),
		Profile:   profile,
		CreatedAt: decodeTime(createdAt),
		UpdatedAt: decodeTime(updatedAt),
	}, nil
}

func (v *Vault) decodeProfile(blob []byte) (*ClientProfile, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	data, err := v.decryptWithNonce(blob)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decrypt client profile: %w", err)
	}
	var profile ClientProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("vault: failed to decode client profile: %w", err)
	}
	return &profile, nil
}

// UpdateClientProfile replaces a client's encrypted profile.
func (v *Vault) UpdateClientProfile(ctx context.Context, id string, profile ClientProfile) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("vault: failed to encode client profile: %w", err)
	}
	encProfile, err := v.encryptWithNonce(data)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt client profile: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE clients SET encrypted_profile = ?, updated_at = ? WHERE id = ?`,
		encProfile, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("vault: failed to update client: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}

	_, _ = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventClientUpdated,
		ResourceType: audit.ResourceClient,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

// ListClients returns all clients ordered by creation time.
func (v *Vault) ListClients(ctx context.Context) ([]*Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, encrypted_name, encrypted_profile, created_at, updated_at
		FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		var id string
		var encName, encProfile []byte
		var createdAt, updatedAt string
		if err := rows.Scan(&id, &encName, &encProfile, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		name, err := v.decryptWithNonce(encName)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to decrypt client name: %w", err)
		}
		profile, err := v.decodeProfile(encProfile)
		if err != nil {
			return nil, err
		}
		clients = append(clients, &Client{
			ID:        id,
			Name:      string(name),
			Profile:   profile,
			CreatedAt: decodeTime(createdAt),
			UpdatedAt: decodeTime(updatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return clients, nil
}

// CreateRecord creates a draft record for a client. Content and
// structured content are encrypted before they reach the database.
func (v *Vault) CreateRecord(ctx context.Context, clientID, content, structured string) (*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	if len(content) > MaxContentSize {
		return nil, ErrContentTooLarge
	}
	if _, err := v.getClient(ctx, db, clientID); err != nil {
		return nil, err
	}

	encContent, err := v.encryptWithNonce([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt content: %w", err)
	}
	var encStructured []byte
	if structured != "" {
		encStructured, err = v.encryptWithNonce([]byte(structured))
		if err != nil {
			return nil, fmt.Errorf("vault: failed to encrypt structured content: %w", err)
		}
	}

	r := &Record{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		Status:      StatusDraft,
		Content:     content,
		Structured:  structured,
		ContentHash: crypto.HashContent([]byte(content)),
		WordCount:   wordCount(content),
		CreatedAt:   time.Now().UTC(),
	}
	r.UpdatedAt = r.CreatedAt

	_, err = db.ExecContext(ctx, `
		INSERT INTO records (id, client_id, status, encrypted_content, encrypted_structured,
			content_hash, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, string(r.Status), encContent, encStructured,
		r.ContentHash, r.WordCount, encodeTime(r.CreatedAt), encodeTime(r.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("vault: failed to save record: %w", err)
	}

	_, _ = v.auditLog.Append(ctx, db, audit.Params{
		EventType:    audit.EventRecordCreated,
		ResourceType: audit.ResourceRecord,
		ResourceID:   r.ID,
		Outcome:      audit.OutcomeSuccess,
	})
	return r, nil
}

// GetRecord retrieves and decrypts a full record.
func (v *Vault) GetRecord(ctx context.Context, id string) (*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.getRecord(ctx, db, id)
}

func (v *Vault) getRecord(ctx context.Context, q audit.Querier, id string) (*Record, error) {
	var (
		clientID, status, contentHash     string
		encContent, encStructured, encDet []byte
		words                             int
		signature, signedAt               sql.NullString
		createdAt, updatedAt              string
	)
	err := q.QueryRowContext(ctx, `
		SELECT client_id, status, encrypted_content, encrypted_structured,
			encrypted_detections, content_hash, word_count, signature, signed_at,
			created_at, updated_at
		FROM records WHERE id = ?`, id).
		Scan(&clientID, &status, &encContent, &encStructured, &encDet,
			&contentHash, &words, &signature, &signedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("vault: failed to read record: %w", err)
	}

	content, err := v.decryptWithNonce(encContent)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decrypt content: %w", err)
	}

	r := &Record{
		ID:          id,
		ClientID:    clientID,
		Status:      RecordStatus(status),
		Content:     string(content),
		ContentHash: contentHash,
		WordCount:   words,
		CreatedAt:   decodeTime(createdAt),
		UpdatedAt:   decodeTime(updatedAt),
	}
	if len(encStructured) > 0 {
		structured, err := v.decryptWithNonce(encStructured)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to decrypt structured content: %w", err)
		}
		r.Structured = string(structured)
	}
	if len(encDet) > 0 {
		detJSON, err := v.decryptWithNonce(encDet)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to decrypt detections: %w", err)
		}
		if err := json.Unmarshal(detJSON, &r.Detections); err != nil {
			return nil, fmt.Errorf("vault: failed to unmarshal detections: %w", err)
		}
	}
	if signature.Valid {
		r.Signature = signature.String
	}
	if signedAt.Valid {
		t := decodeTime(signedAt.String)
		r.SignedAt = &t
	}
	return r, nil
}

// ListRecords returns summaries for a client, newest first. No
// content columns are touched.
func (v *Vault) ListRecords(ctx context.Context, clientID string) ([]*RecordSummary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, status, word_count, signed_at, created_at, updated_at
		FROM records WHERE client_id = ? ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*RecordSummary
	for rows.Next() {
		var (
			id, cid, status      string
			words                int
			signedAt             sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&id, &cid, &status, &words, &signedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		s := &RecordSummary{
			ID:        id,
			ClientID:  cid,
			Status:    RecordStatus(status),
			WordCount: words,
			CreatedAt: decodeTime(createdAt),
			UpdatedAt: decodeTime(updatedAt),
		}
		if signedAt.Valid {
			t := decodeTime(signedAt.String)
			s.SignedAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return out, nil
}

// UpdateRecordContent replaces a record's content. Signed records are
// immutable. Any previous analysis no longer describes the new text,
// so detections and their attestations are discarded and the record
// returns to draft.
func (v *Vault) UpdateRecordContent(ctx context.Context, id, content, structured string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	if len(content) > MaxContentSize {
		return ErrContentTooLarge
	}

	r, err := v.getRecord(ctx, db, id)
	if err != nil {
		return err
	}
	if r.Status == StatusSigned {
		return ErrRecordSigned
	}

	encContent, err := v.encryptWithNonce([]byte(content))
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt content: %w", err)
	}
	var encStructured []byte
	if structured != "" {
		encStructured, err = v.encryptWithNonce([]byte(structured))
		if err != nil {
			return fmt.Errorf("vault: failed to encrypt structured content: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE records SET encrypted_content = ?, encrypted_structured = ?,
			encrypted_detections = NULL, content_hash = ?, word_count = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		encContent, encStructured, crypto.HashContent([]byte(content)),
		wordCount(content), string(StatusDraft), encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("vault: failed to update record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attestations WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("vault: failed to clear attestations: %w", err)
	}
	if _, err = v.auditLog.Append(ctx, tx, audit.Params{
		EventType:    audit.EventRecordUpdated,
		ResourceType: audit.ResourceRecord,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
	}); err != nil {
		return fmt.Errorf("vault: failed to record update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteRecord removes an unsigned record and its attestations.
func (v *Vault) DeleteRecord(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	r, err := v.getRecord(ctx, db, id)
	if err != nil {
		return err
	}
	if r.Status == StatusSigned {
		return ErrRecordSigned
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attestations WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("vault: failed to delete attestations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("vault: failed to delete record: %w", err)
	}
	if _, err = v.auditLog.Append(ctx, tx, audit.Params{
		EventType:    audit.EventRecordDeleted,
		ResourceType: audit.ResourceRecord,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
	}); err != nil {
		return fmt.Errorf("vault: failed to record deletion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return nil
}

// SetDetections stores an analysis result on a record. Detections
// carry offsets and pattern metadata only, encrypted at rest. Stale
// attestations pointing at detections that no longer exist are
// dropped, then the status is recomputed: attestable when every
// critical detection is attested (or none exist), detected otherwise.
func (v *Vault) SetDetections(ctx context.Context, recordID string, detections []scan.Detection) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	r, err := v.getRecord(ctx, db, recordID)
	if err != nil {
		return err
	}
	if r.Status == StatusSigned {
		return ErrRecordSigned
	}

	var encDet []byte
	if len(detections) > 0 {
		detJSON, err := json.Marshal(detections)
		if err != nil {
			return fmt.Errorf("vault: failed to marshal detections: %w", err)
		}
		encDet, err = v.encryptWithNonce(detJSON)
		if err != nil {
			return fmt.Errorf("vault: failed to encrypt detections: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	valid := make(map[string]bool, len(detections))
	detectionIDs := make([]string, 0, len(detections))
	for _, d := range detections {
		valid[d.ID] = true
		detectionIDs = append(detectionIDs, d.ID)
	}

	attestations, err := v.loadAttestations(ctx, tx, recordID)
	if err != nil {
		return err
	}
	for _, a := range attestations {
		if !valid[a.DetectionID] {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM attestations WHERE record_id = ? AND detection_id = ?`,
				recordID, a.DetectionID); err != nil {
				return fmt.Errorf("vault: failed to drop stale attestation: %w", err)
			}
		}
	}
	kept := attestations[:0]
	for _, a := range attestations {
		if valid[a.DetectionID] {
			kept = append(kept, a)
		}
	}

	status := nextStatus(detections, kept)
	_, err = tx.ExecContext(ctx, `
		UPDATE records SET encrypted_detections = ?, status = ?, updated_at = ? WHERE id = ?`,
		encDet, string(status), encodeTime(time.Now()), recordID)
	if err != nil {
		return fmt.Errorf("vault: failed to store detections: %w", err)
	}
	if _, err = v.auditLog.Append(ctx, tx, audit.Params{
		EventType:    audit.EventAnalysisRun,
		ResourceType: audit.ResourceRecord,
		ResourceID:   recordID,
		Outcome:      audit.OutcomeSuccess,
		DetectionIDs: detectionIDs,
	}); err != nil {
		return fmt.Errorf("vault: failed to record analysis: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return nil
}

// nextStatus derives the unsigned record status from the signing gate.
func nextStatus(detections []scan.Detection, attestations []attest.Attestation) RecordStatus {
	if attest.CheckCompleteness(detections, attestations).CanSign {
		return StatusAttestable
	}
	return StatusDetected
}

// Attest records a clinician's response to one detection. The response
// must come from the quick-pick vocabulary for the detection's
// category and severity; re-attesting a detection replaces the
// previous response. Notes are encrypted at rest.
func (v *Vault) Attest(ctx context.Context, recordID, detectionID string, response attest.Response, note string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	r, err := v.getRecord(ctx, db, recordID)
	if err != nil {
		return err
	}
	if r.Status == StatusSigned {
		return ErrRecordSigned
	}

	var target *scan.Detection
	for i := range r.Detections {
		if r.Detections[i].ID == detectionID {
			target = &r.Detections[i]
			break
		}
	}
	if target == nil {
		return ErrDetectionNotFound
	}

	a, err := attest.New(*target, response, note)
	if err != nil {
		return err
	}

	var encNote []byte
	if a.Note != "" {
		encNote, err = v.encryptWithNonce([]byte(a.Note))
		if err != nil {
			return fmt.Errorf("vault: failed to encrypt note: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attestations (id, record_id, detection_id, response, encrypted_note, attested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id, detection_id) DO UPDATE SET
			response = excluded.response,
			encrypted_note = excluded.encrypted_note,
			attested_at = excluded.attested_at`,
		a.ID, recordID, a.DetectionID, string(a.Response), encNote, encodeTime(a.AttestedAt))
	if err != nil {
		return fmt.Errorf("vault: failed to save attestation: %w", err)
	}

	attestations, err := v.loadAttestations(ctx, tx, recordID)
	if err != nil {
		return err
	}
	status := nextStatus(r.Detections, attestations)
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), encodeTime(time.Now()), recordID); err != nil {
		return fmt.Errorf("vault: failed to update record status: %w", err)
	}
	if _, err = v.auditLog.Append(ctx, tx, audit.Params{
		EventType:    audit.EventDetectionResolved,
		ResourceType: audit.ResourceRecord,
		ResourceID:   recordID,
		Outcome:      audit.OutcomeSuccess,
		DetectionIDs: []string{detectionID},
	}); err != nil {
		return fmt.Errorf("vault: failed to record attestation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return nil
}

// Attestations returns the attestations recorded for a record, with
// notes decrypted.
func (v *Vault) Attestations(ctx context.Context, recordID string) ([]attest.Attestation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	return v.loadAttestations(ctx, db, recordID)
}

func (v *Vault) loadAttestations(ctx context.Context, q audit.Querier, recordID string) ([]attest.Attestation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, detection_id, response, encrypted_note, attested_at
		FROM attestations WHERE record_id = ? ORDER BY attested_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query attestations: %w", err)
	}
	defer rows.Close()

	var out []attest.Attestation
	for rows.Next() {
		var (
			id, detectionID, response, attestedAt string
			encNote                               []byte
		)
		if err := rows.Scan(&id, &detectionID, &response, &encNote, &attestedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		a := attest.Attestation{
			ID:          id,
			DetectionID: detectionID,
			Response:    attest.Response(response),
			AttestedAt:  decodeTime(attestedAt),
		}
		if len(encNote) > 0 {
			note, err := v.decryptWithNonce(encNote)
			if err != nil {
				return nil, fmt.Errorf("vault: failed to decrypt note: %w", err)
			}
			a.Note = string(note)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return out, nil
}

// Completeness reports whether a record can be signed and which
// critical detections still lack attestations.
func (v *Vault) Completeness(ctx context.Context, recordID string) (attest.Completeness, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return attest.Completeness{}, err
	}
	r, err := v.getRecord(ctx, db, recordID)
	if err != nil {
		return attest.Completeness{}, err
	}
	attestations, err := v.loadAttestations(ctx, db, recordID)
	if err != nil {
		return attest.Completeness{}, err
	}
	return attest.CheckCompleteness(r.Detections, attestations), nil
}

// SignRecord finalizes a record. The completeness gate must pass;
// the status flip, signature and audit entry commit in a single
// transaction so a signed record without its audit entry (or the
// reverse) cannot exist.
func (v *Vault) SignRecord(ctx context.Context, recordID string) (*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	r, err := v.getRecord(ctx, db, recordID)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusSigned {
		return nil, ErrRecordSigned
	}

	attestations, err := v.loadAttestations(ctx, db, recordID)
	if err != nil {
		return nil, err
	}
	if c := attest.CheckCompleteness(r.Detections, attestations); !c.CanSign {
		_, _ = v.auditLog.Append(ctx, db, audit.Params{
			EventType:    audit.EventRecordSigned,
			ResourceType: audit.ResourceRecord,
			ResourceID:   recordID,
			Outcome:      audit.OutcomeBlocked,
			DetectionIDs: c.Missing,
		})
		return nil, &AttestationsIncompleteError{Missing: c.Missing}
	}

	signedAt := time.Now().UTC()
	signature := attest.ComputeSignature(recordID, r.ContentHash, signedAt, len(attestations))

	detectionIDs := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		detectionIDs = append(detectionIDs, d.ID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE records SET status = ?, signature = ?, signed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(StatusSigned), signature, encodeTime(signedAt), encodeTime(signedAt), recordID)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to sign record: %w", err)
	}
	if _, err = v.auditLog.Append(ctx, tx, audit.Params{
		EventType:    audit.EventRecordSigned,
		ResourceType: audit.ResourceRecord,
		ResourceID:   recordID,
		Outcome:      audit.OutcomeSuccess,
		DetectionIDs: detectionIDs,
	}); err != nil {
		return nil, fmt.Errorf("vault: failed to record signing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vault: failed to commit transaction: %w", err)
	}

	r.Status = StatusSigned
	r.Signature = signature
	r.SignedAt = &signedAt
	return r, nil
}

// GetSetting reads a settings value; missing keys return the default.
func (v *Vault) GetSetting(ctx context.Context, key, def string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return "", err
	}
	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("vault: failed to read setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings value.
func (v *Vault) SetSetting(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := v.session(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("vault: failed to save setting: %w", err)
	}
	return nil
}
