package attest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidifyai/evidify/pkg/scan"
)

func criticalDetection(id string) scan.Detection {
	return scan.Detection{
		ID:        id,
		PatternID: "self-harm-euphemism",
		Category:  scan.CategorySelfHarm,
		Severity:  scan.SeverityCritical,
		Start:     120,
		End:       138,
	}
}

// TestQuickPicksSelfHarmCritical tests the critical self-harm vocabulary
func TestQuickPicksSelfHarmCritical(t *testing.T) {
	picks := QuickPicks(scan.CategorySelfHarm, scan.SeverityCritical)

	got := make(map[Response]QuickPick, len(picks))
	for _, p := range picks {
		got[p.Response] = p
	}

	assert.Contains(t, got, ResponseSafetyPlanCompleted)
	assert.Contains(t, got, ResponseAddressedInNote)
	assert.Contains(t, got, ResponseConsultedSupervisor)
	assert.Contains(t, got, ResponseWillAddressNextSession)

	// Critical detections cannot be waved off
	assert.NotContains(t, got, ResponseNotClinicallyRelevant)
	// Mandated report is abuse-specific
	assert.NotContains(t, got, ResponseMandatedReportFiled)
}

// TestQuickPicksCategoryAdditions tests per-category vocabulary additions
func TestQuickPicksCategoryAdditions(t *testing.T) {
	tests := []struct {
		name     string
		category scan.Category
		want     Response
	}{
		{"abuse adds mandated report", scan.CategoryAbuse, ResponseMandatedReportFiled},
		{"harm adds duty to warn", scan.CategoryHarmToOther, ResponseDutyToWarnAssessed},
		{"self harm adds safety plan", scan.CategorySelfHarm, ResponseSafetyPlanCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Allowed(tt.category, scan.SeverityCritical, tt.want))
		})
	}
}

// TestQuickPicksNonCritical tests that advisory severities keep the waiver
func TestQuickPicksNonCritical(t *testing.T) {
	assert.True(t, Allowed(scan.CategoryBoundary, scan.SeverityLow, ResponseNotClinicallyRelevant))
	assert.True(t, Allowed(scan.CategorySubstanceUse, scan.SeverityMedium, ResponseNotClinicallyRelevant))
}

// TestValidate tests response validation against the vocabulary
func TestValidate(t *testing.T) {
	d := criticalDetection("det-1")

	// Allowed response, no note needed
	assert.NoError(t, Validate(d, ResponseSafetyPlanCompleted, ""))

	// Response outside the vocabulary for this pairing
	err := Validate(d, ResponseMandatedReportFiled, "")
	assert.ErrorIs(t, err, ErrResponseNotAllowed)

	// Critical + not-clinically-relevant is disallowed outright
	err = Validate(d, ResponseNotClinicallyRelevant, "reviewed with supervisor")
	assert.ErrorIs(t, err, ErrResponseNotAllowed)

	// Supervisor consult requires a note
	err = Validate(d, ResponseConsultedSupervisor, "")
	assert.ErrorIs(t, err, ErrNoteRequired)
	assert.NoError(t, Validate(d, ResponseConsultedSupervisor, "discussed with Dr. R, plan agreed"))

	// Whitespace is not a note
	err = Validate(d, ResponseConsultedSupervisor, "   ")
	assert.ErrorIs(t, err, ErrNoteRequired)
}

// TestNew tests attestation construction
func TestNew(t *testing.T) {
	d := criticalDetection("det-1")

	a, err := New(d, ResponseSafetyPlanCompleted, "")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "det-1", a.DetectionID)
	assert.Equal(t, ResponseSafetyPlanCompleted, a.Response)
	assert.WithinDuration(t, time.Now().UTC(), a.AttestedAt, 5*time.Second)

	_, err = New(d, ResponseNotClinicallyRelevant, "x")
	assert.ErrorIs(t, err, ErrResponseNotAllowed)
}

// TestCheckCompleteness tests the signing gate
func TestCheckCompleteness(t *testing.T) {
	critical := criticalDetection("det-crit")
	advisory := scan.Detection{
		ID:       "det-low",
		Category: scan.CategoryBoundary,
		Severity: scan.SeverityLow,
	}

	// Unattested critical blocks signing and names the missing ID
	result := CheckCompleteness([]scan.Detection{critical, advisory}, nil)
	assert.False(t, result.CanSign)
	assert.Equal(t, []string{"det-crit"}, result.Missing)

	// Attesting only the advisory detection does not unblock
	result = CheckCompleteness(
		[]scan.Detection{critical, advisory},
		[]Attestation{{DetectionID: "det-low", Response: ResponseNotClinicallyRelevant}},
	)
	assert.False(t, result.CanSign)

	// Attesting the critical detection unblocks
	result = CheckCompleteness(
		[]scan.Detection{critical, advisory},
		[]Attestation{{DetectionID: "det-crit", Response: ResponseSafetyPlanCompleted}},
	)
	assert.True(t, result.CanSign)
	assert.Empty(t, result.Missing)

	// No detections at all: signable
	result = CheckCompleteness(nil, nil)
	assert.True(t, result.CanSign)
}

// TestConsolidate tests presentation grouping
func TestConsolidate(t *testing.T) {
	dets := []scan.Detection{
		{ID: "a", Category: scan.CategoryBoundary, Severity: scan.SeverityLow},
		{ID: "b", Category: scan.CategorySelfHarm, Severity: scan.SeverityCritical},
		{ID: "c", Category: scan.CategorySelfHarm, Severity: scan.SeverityCritical},
		{ID: "d", Category: scan.CategoryPrivacy, Severity: scan.SeverityHigh},
	}

	groups := Consolidate(dets)
	require.Len(t, groups, 3)

	// Severity descending
	assert.Equal(t, scan.CategorySelfHarm, groups[0].Category)
	assert.Len(t, groups[0].Detections, 2)
	assert.Equal(t, scan.CategoryPrivacy, groups[1].Category)
	assert.Equal(t, scan.CategoryBoundary, groups[2].Category)

	// Deterministic group IDs
	again := Consolidate(dets)
	for i := range groups {
		assert.Equal(t, groups[i].ID, again[i].ID)
	}

	// Grouping must not change completeness accounting
	result := CheckCompleteness(dets, []Attestation{{DetectionID: "b", Response: ResponseSafetyPlanCompleted}})
	assert.False(t, result.CanSign, "attesting one group member must not cover the whole group")
	assert.Equal(t, []string{"c"}, result.Missing)
}

// TestComputeSignature tests the signing hash
func TestComputeSignature(t *testing.T) {
	signedAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	s1 := ComputeSignature("rec-1", "abc123", signedAt, 2)
	s2 := ComputeSignature("rec-1", "abc123", signedAt, 2)
	assert.Equal(t, s1, s2, "signature should be deterministic")
	assert.Len(t, s1, 64)

	assert.NotEqual(t, s1, ComputeSignature("rec-2", "abc123", signedAt, 2))
	assert.NotEqual(t, s1, ComputeSignature("rec-1", "def456", signedAt, 2))
	assert.NotEqual(t, s1, ComputeSignature("rec-1", "abc123", signedAt.Add(time.Second), 2))
	assert.NotEqual(t, s1, ComputeSignature("rec-1", "abc123", signedAt, 3))
}
