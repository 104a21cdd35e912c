// Package attest enforces the attestation gate: every critical
// detection attached to a record must carry a valid clinician response
// before the record can be signed. Responses come from a fixed
// per-category quick-pick vocabulary so attestations stay auditable
// without free-text interpretation.
package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evidifyai/evidify/pkg/scan"
)

// Response is a quick-pick response code.
type Response string

// Quick-pick response vocabulary.
const (
	ResponseAddressedInNote        Response = "addressed-in-note"
	ResponseSafetyPlanCompleted    Response = "safety-plan-completed"
	ResponseConsultedSupervisor    Response = "consulted-supervisor"
	ResponseWillAddressNextSession Response = "will-address-next-session"
	ResponseDocumentedElsewhere    Response = "documented-elsewhere"
	ResponseNotClinicallyRelevant  Response = "not-clinically-relevant"
	ResponseMandatedReportFiled    Response = "mandated-report-filed"
	ResponseDutyToWarnAssessed     Response = "duty-to-warn-assessed"
)

// Sentinel errors returned by attestation operations.
var (
	// ErrResponseNotAllowed indicates the response code is outside the
	// allowed set for the detection's category and severity.
	ErrResponseNotAllowed = errors.New("attest: response not allowed for this detection")

	// ErrNoteRequired indicates the chosen response requires a
	// justification note.
	ErrNoteRequired = errors.New("attest: response requires a justification note")
)

// QuickPick is one allowed response with its display label.
type QuickPick struct {
	Response     Response `json:"response"`
	Label        string   `json:"label"`
	RequiresNote bool     `json:"requires_note"`
}

// labels for the base vocabulary.
var quickPickLabels = map[Response]string{
	ResponseAddressedInNote:        "Addressed in note",
	ResponseSafetyPlanCompleted:    "Safety plan completed",
	ResponseConsultedSupervisor:    "Consulted supervisor",
	ResponseWillAddressNextSession: "Will address next session",
	ResponseDocumentedElsewhere:    "Documented elsewhere",
	ResponseNotClinicallyRelevant:  "Not clinically relevant",
	ResponseMandatedReportFiled:    "Mandated report filed",
	ResponseDutyToWarnAssessed:     "Duty to warn assessed",
}

// noteRequired lists responses that need a justification note: either
// the clinician is overriding the detection or the evidence lives
// outside this record.
var noteRequired = map[Response]bool{
	ResponseNotClinicallyRelevant: true,
	ResponseConsultedSupervisor:   true,
}

// QuickPicks returns the allowed response vocabulary for a detection's
// category and severity.
//
// The base set applies everywhere. Self-harm adds the safety-plan
// response, harm-to-other adds duty-to-warn, abuse adds the mandated
// report. Critical severity drops "not clinically relevant": a critical
// detection can be wrong, but dismissing it still requires supervision
// or in-note handling, not a one-click waiver.
func QuickPicks(category scan.Category, severity scan.Severity) []QuickPick {
	responses := []Response{
		ResponseAddressedInNote,
		ResponseWillAddressNextSession,
		ResponseConsultedSupervisor,
		ResponseDocumentedElsewhere,
	}

	switch category {
	case scan.CategorySelfHarm:
		responses = append(responses, ResponseSafetyPlanCompleted)
	case scan.CategoryHarmToOther:
		responses = append(responses, ResponseDutyToWarnAssessed)
	case scan.CategoryAbuse:
		responses = append(responses, ResponseMandatedReportFiled)
	}

	if severity != scan.SeverityCritical {
		responses = append(responses, ResponseNotClinicallyRelevant)
	}

	picks := make([]QuickPick, 0, len(responses))
	for _, r := range responses {
		picks = append(picks, QuickPick{
			Response:     r,
			Label:        quickPickLabels[r],
			RequiresNote: noteRequired[r],
		})
	}
	return picks
}

// Allowed reports whether response is valid for the category/severity
// pairing.
func Allowed(category scan.Category, severity scan.Severity, response Response) bool {
	for _, pick := range QuickPicks(category, severity) {
		if pick.Response == response {
			return true
		}
	}
	return false
}

// Attestation is a clinician response to a single detection.
type Attestation struct {
	ID          string    `json:"id"`
	DetectionID string    `json:"detection_id"`
	Response    Response  `json:"response"`
	Note        string    `json:"note,omitempty"`
	AttestedAt  time.Time `json:"attested_at"`
}

// Validate checks a response against a detection's allowed vocabulary
// and note requirements.
func Validate(d scan.Detection, response Response, note string) error {
	if !Allowed(d.Category, d.Severity, response) {
		return fmt.Errorf("%w: %s for %s/%s", ErrResponseNotAllowed, response, d.Category, d.Severity)
	}
	if noteRequired[response] && strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: %s", ErrNoteRequired, response)
	}
	return nil
}

// New validates and builds an attestation for a detection.
func New(d scan.Detection, response Response, note string) (Attestation, error) {
	if err := Validate(d, response, note); err != nil {
		return Attestation{}, err
	}
	return Attestation{
		ID:          uuid.NewString(),
		DetectionID: d.ID,
		Response:    response,
		Note:        strings.TrimSpace(note),
		AttestedAt:  time.Now().UTC(),
	}, nil
}

// Completeness is the result of the signing gate check.
type Completeness struct {
	CanSign bool     `json:"can_sign"`
	Missing []string `json:"missing,omitempty"`
}

// CheckCompleteness determines whether a record can be signed: every
// critical detection must have at least one attestation. Non-critical
// detections are advisory and never block signing.
func CheckCompleteness(detections []scan.Detection, attestations []Attestation) Completeness {
	attested := make(map[string]bool, len(attestations))
	for _, a := range attestations {
		attested[a.DetectionID] = true
	}

	var missing []string
	for _, d := range detections {
		if d.RequiresAttestation() && !attested[d.ID] {
			missing = append(missing, d.ID)
		}
	}
	return Completeness{CanSign: len(missing) == 0, Missing: missing}
}

// Group batches detections sharing (category, severity) so a caller can
// present them together. Grouping is presentation only; completeness is
// still tracked per detection.
type Group struct {
	ID         string           `json:"id"`
	Category   scan.Category    `json:"category"`
	Severity   scan.Severity    `json:"severity"`
	Detections []scan.Detection `json:"detections"`
}

// Consolidate groups detections by (category, severity), ordered by
// severity descending then category name, with a deterministic group ID
// derived from the member detection IDs.
func Consolidate(detections []scan.Detection) []Group {
	byKey := make(map[string]*Group)
	var order []string
	for _, d := range detections {
		key := string(d.Category) + "/" + d.Severity.String()
		g, ok := byKey[key]
		if !ok {
			g = &Group{Category: d.Category, Severity: d.Severity}
			byKey[key] = g
			order = append(order, key)
		}
		g.Detections = append(g.Detections, d)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		ids := make([]string, 0, len(g.Detections))
		for _, d := range g.Detections {
			ids = append(ids, d.ID)
		}
		sum := sha256.Sum256([]byte(strings.Join(ids, "|")))
		g.ID = hex.EncodeToString(sum[:6])
		groups = append(groups, *g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Severity != groups[j].Severity {
			return groups[i].Severity > groups[j].Severity
		}
		return groups[i].Category < groups[j].Category
	})
	return groups
}

// ComputeSignature derives the signature hash sealed into a record at
// signing time: SHA-256 over the record ID, frozen content hash,
// signing timestamp, and attestation count.
func ComputeSignature(recordID, contentHash string, signedAt time.Time, attestationCount int) string {
	payload := fmt.Sprintf("%s|%s|%s|%d", recordID, contentHash, signedAt.UTC().Format(time.RFC3339), attestationCount)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
