// Package export classifies export destinations and enforces the
// egress policy. Every warned or blocked attempt is audit-logged with
// a salted hash of the destination path, never the path itself.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/crypto"
)

// Classification is the destination category of an export path.
type Classification string

const (
	ClassSafe           Classification = "safe"
	ClassCloudSync      Classification = "cloud_sync"
	ClassNetworkShare   Classification = "network_share"
	ClassRemovableMedia Classification = "removable_media"
	// ClassUnknown is the fallback when no signal identifies the
	// destination. Unknown is never treated as safe.
	ClassUnknown Classification = "unknown"
)

// Mode selects the policy posture.
type Mode string

const (
	// ModeSolo warns on risky destinations but lets the clinician
	// override.
	ModeSolo Mode = "solo"
	// ModeEnterprise blocks risky destinations with no override.
	ModeEnterprise Mode = "enterprise"
)

// Action is the policy outcome for one export attempt.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

var (
	ErrExportBlocked = errors.New("export: destination blocked by policy")
	ErrInvalidMode   = errors.New("export: invalid policy mode")
	ErrEmptyArtifact = errors.New("export: nothing to export")
)

// Decision is the evaluated outcome for a destination.
type Decision struct {
	Path           string         // canonical destination path
	Classification Classification
	Action         Action
	Overridden     bool // a warn the clinician chose to proceed past
	ParentFallback bool // destination did not exist; parent was classified
}

// SignalProvider supplies filesystem-level classification signals.
// The production implementation lives in signals_unix.go; tests
// substitute a fake.
type SignalProvider interface {
	// FilesystemKind reports the broad kind of filesystem backing the
	// path: "network", "removable", "local", or "" when undetermined.
	FilesystemKind(path string) string
	// HasCloudMarker reports whether the path carries provider
	// metadata identifying a cloud sync directory.
	HasCloudMarker(path string) bool
}

// Auditor is the audit surface the engine records decisions through.
// *vault.Vault satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, p audit.Params) error
	PathSalt() ([]byte, error)
}

// Policy configures the engine.
type Policy struct {
	Mode Mode
	// Allowlist holds canonical directory prefixes always treated as
	// safe, e.g. a vetted practice-management import directory.
	Allowlist []string
}

// Engine evaluates and performs exports.
type Engine struct {
	policy  Policy
	signals SignalProvider
	auditor Auditor
}

// NewEngine builds an export engine. signals may come from
// NewSystemSignals or a test fake.
func NewEngine(policy Policy, signals SignalProvider, auditor Auditor) (*Engine, error) {
	if policy.Mode != ModeSolo && policy.Mode != ModeEnterprise {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, policy.Mode)
	}
	return &Engine{policy: policy, signals: signals, auditor: auditor}, nil
}

// Canonicalize resolves a destination to an absolute symlink-free
// path. When the destination itself does not exist yet (the usual case
// for a file about to be written), its parent directory is resolved
// instead and the original base name re-joined; fallback reports that
// case so classification is known to describe the parent.
func Canonicalize(path string) (canonical string, fallback bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("export: failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, false, nil
	}
	if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("export: failed to resolve path: %w", err)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", false, fmt.Errorf("export: failed to resolve parent directory: %w", err)
	}
	return filepath.Join(parent, filepath.Base(abs)), true, nil
}

// cloudNameFragments are path components that identify well-known sync
// directories even when no filesystem metadata is available.
var cloudNameFragments = []string{
	"dropbox", "onedrive", "google drive", "googledrive",
	"icloud", "box sync", "nextcloud", "syncthing",
}

// Classify determines the destination category for a canonical path.
// Signals are consulted most-specific first; a path with no signal at
// all is unknown, and unknown is handled as risky, not safe.
func (e *Engine) Classify(canonical string) Classification {
	if e.signals != nil {
		if e.signals.HasCloudMarker(canonical) {
			return ClassCloudSync
		}
		switch e.signals.FilesystemKind(canonical) {
		case "network":
			return ClassNetworkShare
		case "removable":
			return ClassRemovableMedia
		case "local":
			if hasCloudName(canonical) {
				return ClassCloudSync
			}
			return ClassSafe
		}
	}
	if hasCloudName(canonical) {
		return ClassCloudSync
	}
	return ClassUnknown
}

func hasCloudName(path string) bool {
	lower := strings.ToLower(path)
	for _, fragment := range cloudNameFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Evaluate classifies a destination and applies the policy. override
// is only honored for solo-mode warns; enterprise blocks cannot be
// overridden. Every decision is audit-logged with the path class and
// salted path hash.
func (e *Engine) Evaluate(ctx context.Context, path string, override bool) (*Decision, error) {
	canonical, fallback, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Path:           canonical,
		Classification: e.Classify(canonical),
		ParentFallback: fallback,
	}

	switch {
	case e.allowlisted(canonical):
		d.Action = ActionAllow
	case d.Classification == ClassSafe:
		d.Action = ActionAllow
	case e.policy.Mode == ModeEnterprise:
		d.Action = ActionBlock
	default:
		d.Action = ActionWarn
		d.Overridden = override
	}

	if err := e.recordDecision(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Engine) allowlisted(canonical string) bool {
	for _, prefix := range e.policy.Allowlist {
		if prefix == "" {
			continue
		}
		if canonical == prefix || strings.HasPrefix(canonical, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// recordDecision appends the audit entry for an evaluation. Failing to
// record a warn or block fails the whole evaluation: an unlogged
// refusal must not happen silently.
func (e *Engine) recordDecision(ctx context.Context, d *Decision) error {
	salt, err := e.auditor.PathSalt()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(salt)

	outcome := audit.OutcomeSuccess
	if d.Action == ActionBlock || (d.Action == ActionWarn && !d.Overridden) {
		outcome = audit.OutcomeBlocked
	}
	return e.auditor.AppendAudit(ctx, audit.Params{
		EventType:    audit.EventExportRequested,
		ResourceType: audit.ResourceExport,
		Outcome:      outcome,
		PathClass:    string(d.Classification),
		PathHash:     crypto.HashPath(salt, d.Path),
	})
}

// RequestExport evaluates the destination and, when the policy
// permits, writes the artifact with owner-only permissions. A solo
// warn without override and any enterprise block return
// ErrExportBlocked alongside the decision so the caller can present
// the classification.
func (e *Engine) RequestExport(ctx context.Context, path string, artifact []byte, override bool) (*Decision, error) {
	if len(artifact) == 0 {
		return nil, ErrEmptyArtifact
	}
	d, err := e.Evaluate(ctx, path, override)
	if err != nil {
		return nil, err
	}
	if d.Action == ActionBlock || (d.Action == ActionWarn && !d.Overridden) {
		return d, ErrExportBlocked
	}
	if err := os.WriteFile(d.Path, artifact, 0600); err != nil {
		return d, fmt.Errorf("export: failed to write artifact: %w", err)
	}
	return d, nil
}

// Timestamped returns a destination filename carrying a UTC timestamp,
// e.g. records-20260829T141530Z.json.
func Timestamped(dir, stem, ext string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", stem, ts, ext))
}
