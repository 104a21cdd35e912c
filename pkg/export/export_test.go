package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/crypto"
)

// fakeSignals returns canned classification signals keyed by path
// substring.
type fakeSignals struct {
	kind  map[string]string // substring -> filesystem kind
	cloud []string          // substrings with cloud markers
}

func (f *fakeSignals) FilesystemKind(path string) string {
	for sub, kind := range f.kind {
		if strings.Contains(path, sub) {
			return kind
		}
	}
	return ""
}

func (f *fakeSignals) HasCloudMarker(path string) bool {
	for _, sub := range f.cloud {
		if strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

// fakeAuditor captures appended entries.
type fakeAuditor struct {
	salt    []byte
	entries []audit.Params
}

func newFakeAuditor() *fakeAuditor {
	return &fakeAuditor{salt: []byte("0123456789abcdef")}
}

func (f *fakeAuditor) AppendAudit(_ context.Context, p audit.Params) error {
	f.entries = append(f.entries, p)
	return nil
}

func (f *fakeAuditor) PathSalt() ([]byte, error) {
	out := make([]byte, len(f.salt))
	copy(out, f.salt)
	return out, nil
}

func newTestEngine(t *testing.T, mode Mode, signals SignalProvider, allowlist ...string) (*Engine, *fakeAuditor) {
	t.Helper()
	auditor := newFakeAuditor()
	e, err := NewEngine(Policy{Mode: mode, Allowlist: allowlist}, signals, auditor)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e, auditor
}

func TestNewEngineInvalidMode(t *testing.T) {
	_, err := NewEngine(Policy{Mode: "strict"}, &fakeSignals{}, newFakeAuditor())
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("NewEngine() error = %v, want %v", err, ErrInvalidMode)
	}
}

func TestClassify(t *testing.T) {
	signals := &fakeSignals{
		kind: map[string]string{
			"/nas/":   "network",
			"/stick/": "removable",
			"/home/":  "local",
		},
		cloud: []string{"/synced/"},
	}
	e, _ := newTestEngine(t, ModeSolo, signals)

	tests := []struct {
		name string
		path string
		want Classification
	}{
		{"local disk", "/home/user/exports/notes.json", ClassSafe},
		{"network mount", "/nas/share/notes.json", ClassNetworkShare},
		{"removable media", "/stick/notes.json", ClassRemovableMedia},
		{"cloud marker wins over local", "/home/user/synced/notes.json", ClassCloudSync},
		{"cloud name on local disk", "/home/user/Dropbox/notes.json", ClassCloudSync},
		{"no signal at all", "/elsewhere/notes.json", ClassUnknown},
		{"no signal but cloud name", "/elsewhere/OneDrive/notes.json", ClassCloudSync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestEvaluateSoloWarns(t *testing.T) {
	ctx := context.Background()
	signals := &fakeSignals{kind: map[string]string{"/": "network"}}
	e, auditor := newTestEngine(t, ModeSolo, signals)

	target := filepath.Join(t.TempDir(), "notes.json")

	d, err := e.Evaluate(ctx, target, false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != ActionWarn || d.Overridden {
		t.Errorf("decision = %+v, want un-overridden warn", d)
	}

	d, err = e.Evaluate(ctx, target, true)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != ActionWarn || !d.Overridden {
		t.Errorf("decision = %+v, want overridden warn", d)
	}

	if len(auditor.entries) != 2 {
		t.Fatalf("%d audit entries, want 2", len(auditor.entries))
	}
	if auditor.entries[0].Outcome != audit.OutcomeBlocked {
		t.Errorf("first outcome = %v, want %v", auditor.entries[0].Outcome, audit.OutcomeBlocked)
	}
	if auditor.entries[1].Outcome != audit.OutcomeSuccess {
		t.Errorf("second outcome = %v, want %v", auditor.entries[1].Outcome, audit.OutcomeSuccess)
	}
}

func TestEvaluateEnterpriseBlocks(t *testing.T) {
	ctx := context.Background()
	signals := &fakeSignals{kind: map[string]string{"/": "network"}}
	e, auditor := newTestEngine(t, ModeEnterprise, signals)

	// Override is meaningless in enterprise mode.
	d, err := e.Evaluate(ctx, filepath.Join(t.TempDir(), "notes.json"), true)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != ActionBlock {
		t.Errorf("action = %v, want %v", d.Action, ActionBlock)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Outcome != audit.OutcomeBlocked {
		t.Errorf("audit entries = %+v, want one blocked entry", auditor.entries)
	}
}

func TestUnknownIsNeverSafe(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, ModeSolo, &fakeSignals{})

	d, err := e.Evaluate(ctx, filepath.Join(t.TempDir(), "notes.json"), false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Classification != ClassUnknown {
		t.Errorf("classification = %v, want %v", d.Classification, ClassUnknown)
	}
	if d.Action == ActionAllow {
		t.Error("unknown destination was allowed")
	}
}

func TestAllowlistShortCircuits(t *testing.T) {
	ctx := context.Background()
	signals := &fakeSignals{kind: map[string]string{"/": "network"}}

	dir := t.TempDir()
	canonicalDir, _, err := Canonicalize(dir)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	e, _ := newTestEngine(t, ModeEnterprise, signals, canonicalDir)

	d, err := e.Evaluate(ctx, filepath.Join(dir, "notes.json"), false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != ActionAllow {
		t.Errorf("action = %v, want %v for allowlisted prefix", d.Action, ActionAllow)
	}
}

func TestAuditEntriesCarryHashNotPath(t *testing.T) {
	ctx := context.Background()
	signals := &fakeSignals{kind: map[string]string{"/": "network"}}
	e, auditor := newTestEngine(t, ModeEnterprise, signals)

	target := filepath.Join(t.TempDir(), "notes.json")
	d, err := e.Evaluate(ctx, target, false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	entry := auditor.entries[0]
	if entry.PathClass != string(ClassNetworkShare) {
		t.Errorf("path class = %q, want %q", entry.PathClass, ClassNetworkShare)
	}
	want := crypto.HashPath(auditor.salt, d.Path)
	if entry.PathHash != want {
		t.Errorf("path hash = %q, want %q", entry.PathHash, want)
	}
	if strings.Contains(entry.PathHash, "notes") || entry.PathHash == d.Path {
		t.Error("audit entry leaks the raw path")
	}
}

func TestRequestExport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	signals := &fakeSignals{kind: map[string]string{"/": "local"}}
	e, _ := newTestEngine(t, ModeSolo, signals)

	target := filepath.Join(dir, "notes.json")
	d, err := e.RequestExport(ctx, target, []byte(`{"ok":true}`), false)
	if err != nil {
		t.Fatalf("RequestExport() error = %v", err)
	}
	if d.Action != ActionAllow {
		t.Errorf("action = %v, want %v", d.Action, ActionAllow)
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("artifact permissions = %04o, want 0600", perm)
	}

	if _, err := e.RequestExport(ctx, target, nil, false); !errors.Is(err, ErrEmptyArtifact) {
		t.Errorf("RequestExport() with empty artifact error = %v, want %v", err, ErrEmptyArtifact)
	}
}

func TestRequestExportBlockedWritesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	signals := &fakeSignals{kind: map[string]string{"/": "network"}}
	e, _ := newTestEngine(t, ModeSolo, signals)

	target := filepath.Join(dir, "notes.json")
	d, err := e.RequestExport(ctx, target, []byte("data"), false)
	if !errors.Is(err, ErrExportBlocked) {
		t.Fatalf("RequestExport() error = %v, want %v", err, ErrExportBlocked)
	}
	if _, statErr := os.Stat(d.Path); !os.IsNotExist(statErr) {
		t.Error("blocked export still wrote the artifact")
	}

	// With the override acknowledged, the same destination writes.
	if _, err := e.RequestExport(ctx, target, []byte("data"), true); err != nil {
		t.Fatalf("RequestExport() with override error = %v", err)
	}
}

func TestCanonicalizeParentFallback(t *testing.T) {
	dir := t.TempDir()

	// Existing path: no fallback.
	existing := filepath.Join(dir, "present.json")
	if err := os.WriteFile(existing, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, fallback, err := Canonicalize(existing); err != nil || fallback {
		t.Errorf("Canonicalize(existing) fallback = %v, err = %v", fallback, err)
	}

	// Missing file in an existing directory: parent fallback.
	canonical, fallback, err := Canonicalize(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if !fallback {
		t.Error("Canonicalize() did not report parent fallback")
	}
	if filepath.Base(canonical) != "missing.json" {
		t.Errorf("canonical = %q, base name lost", canonical)
	}

	// Symlinked directory resolves to its target.
	link := filepath.Join(dir, "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	viaLink, _, err := Canonicalize(filepath.Join(link, "present.json"))
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	direct, _, err := Canonicalize(existing)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if viaLink != direct {
		t.Errorf("symlink path = %q, direct path = %q", viaLink, direct)
	}
}
