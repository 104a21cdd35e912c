// Package scan detects clinically significant content risks in record
// text: self-harm language, threats toward others, abuse indicators,
// substance concerns, and documentation-integrity problems.
//
// Detections are transient. They carry byte offsets into the scanned
// text, never a copy of the matched text, so nothing from the record
// content can leak into logs or support bundles. Evidence for display
// is reconstructed on demand from the already-decrypted text and
// discarded after use.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Category classifies what kind of risk a pattern looks for.
type Category string

// Detection categories.
const (
	CategorySelfHarm      Category = "self-harm-risk"
	CategoryHarmToOther   Category = "harm-to-other-risk"
	CategoryAbuse         Category = "abuse-indicator"
	CategorySubstanceUse  Category = "substance-use"
	CategoryClinicalRisk  Category = "clinical-risk-other"
	CategoryDocumentation Category = "documentation-integrity"
	CategoryPrivacy       Category = "privacy"
	CategoryBoundary      Category = "boundary"
)

// Severity indicates how urgently a detection must be handled.
type Severity int

// Severity levels, ordered so that higher values are more severe.
const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// severityByCategory is the static category-to-severity lookup.
// Severity is a property of what kind of risk a category represents,
// not of any individual match.
var severityByCategory = map[Category]Severity{
	CategorySelfHarm:      SeverityCritical,
	CategoryHarmToOther:   SeverityCritical,
	CategoryAbuse:         SeverityCritical,
	CategoryClinicalRisk:  SeverityHigh,
	CategoryPrivacy:       SeverityHigh,
	CategorySubstanceUse:  SeverityMedium,
	CategoryDocumentation: SeverityMedium,
	CategoryBoundary:      SeverityLow,
}

// SeverityFor returns the fixed severity of a category.
func SeverityFor(category Category) Severity {
	return severityByCategory[category]
}

// ValidCategory reports whether category is a known enum member.
func ValidCategory(category Category) bool {
	_, ok := severityByCategory[category]
	return ok
}

// Sentinel errors returned by scanner construction.
var (
	// ErrUnknownCategory indicates a pattern references a category
	// outside the closed enum.
	ErrUnknownCategory = errors.New("scan: unknown detection category")

	// ErrEmptyPattern indicates a pattern has no match expressions.
	ErrEmptyPattern = errors.New("scan: pattern has no expressions")
)

// Detection is a single transient scanner hit.
//
// Start and End are byte offsets into the normalized form of the
// scanned text (see Normalize). The matched text itself is never
// stored anywhere.
type Detection struct {
	ID        string   `json:"id"`
	PatternID string   `json:"pattern_id"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
}

// RequiresAttestation reports whether the detection blocks signing
// until attested.
func (d Detection) RequiresAttestation() bool {
	return d.Severity == SeverityCritical
}

// Pattern describes one matcher in the library.
type Pattern struct {
	ID          string   `yaml:"id"`
	Category    Category `yaml:"category"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Suggestion  string   `yaml:"suggestion"`
	Expressions []string `yaml:"expressions"`
	Exclusions  []string `yaml:"exclusions"`
}

type compiledPattern struct {
	Pattern
	expressions []*regexp.Regexp
	exclusions  []*regexp.Regexp
}

// Scanner runs the pattern library over record text.
type Scanner struct {
	patterns []compiledPattern
	byID     map[string]int // pattern ID -> index into patterns
}

// NewScanner builds a scanner with the built-in pattern library.
func NewScanner() *Scanner {
	s := &Scanner{byID: make(map[string]int)}
	for _, p := range builtinPatterns {
		// Built-in expressions are compile-checked by tests; a bad one
		// is a programming error.
		if err := s.add(p); err != nil {
			panic(fmt.Sprintf("scan: builtin pattern %s: %v", p.ID, err))
		}
	}
	return s
}

// AddPatterns compiles and appends additional patterns, typically
// loaded from a YAML pattern set. Patterns with an ID already present
// replace the built-in definition.
func (s *Scanner) AddPatterns(patterns []Pattern) error {
	for _, p := range patterns {
		if err := s.add(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) add(p Pattern) error {
	if !ValidCategory(p.Category) {
		return fmt.Errorf("%w: %q (pattern %s)", ErrUnknownCategory, p.Category, p.ID)
	}
	if len(p.Expressions) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPattern, p.ID)
	}

	cp := compiledPattern{Pattern: p}
	for _, expr := range p.Expressions {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("scan: pattern %s expression %q: %w", p.ID, expr, err)
		}
		cp.expressions = append(cp.expressions, re)
	}
	for _, excl := range p.Exclusions {
		re, err := regexp.Compile(excl)
		if err != nil {
			return fmt.Errorf("scan: pattern %s exclusion %q: %w", p.ID, excl, err)
		}
		cp.exclusions = append(cp.exclusions, re)
	}

	if idx, ok := s.byID[p.ID]; ok {
		s.patterns[idx] = cp
		return nil
	}
	s.patterns = append(s.patterns, cp)
	s.byID[p.ID] = len(s.patterns) - 1
	return nil
}

// PatternByID returns the pattern definition for a stored detection's
// pattern ID, used when hydrating detections for display.
func (s *Scanner) PatternByID(id string) (Pattern, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Pattern{}, false
	}
	return s.patterns[idx].Pattern, true
}

// curly quotes and long dashes fold to ASCII so patterns match text
// pasted from word processors.
var punctuationFolder = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
)

// Normalize applies NFC normalization and ASCII punctuation folding.
// All detection offsets refer to this form of the text; rescanning the
// same content therefore reproduces identical offsets and IDs.
func Normalize(text string) string {
	return punctuationFolder.Replace(norm.NFC.String(text))
}

// Scan runs every pattern over the text and returns the detections in
// library order. Scanning is idempotent: the same text always yields
// the same detection IDs.
//
// A pattern contributes at most one detection (the first match of its
// first matching expression); a matching exclusion vetoes the whole
// pattern.
func (s *Scanner) Scan(text string) []Detection {
	normalized := Normalize(text)

	var detections []Detection
	for i := range s.patterns {
		p := &s.patterns[i]

		excluded := false
		for _, excl := range p.exclusions {
			if excl.MatchString(normalized) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		for _, re := range p.expressions {
			loc := re.FindStringIndex(normalized)
			if loc == nil {
				continue
			}
			detections = append(detections, Detection{
				ID:        DetectionID(p.ID, loc[0], loc[1]),
				PatternID: p.ID,
				Category:  p.Category,
				Severity:  SeverityFor(p.Category),
				Start:     loc[0],
				End:       loc[1],
			})
			break
		}
	}
	return detections
}

// DetectionID derives the stable detection identifier from the pattern
// ID and match offsets: the pattern ID plus a truncated
// SHA-256(pattern_id|start|end) suffix. Persisted attestations keyed on
// this ID survive a rescan of unchanged content.
func DetectionID(patternID string, start, end int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", patternID, start, end)))
	return patternID + "-" + hex.EncodeToString(sum[:6])
}

// ReconstructEvidence slices the matched span plus surrounding context
// out of the decrypted text. The window is widened outward to the
// nearest whitespace so words are not cut in half, and ellipses mark
// truncation. The result is for display only and must not be persisted
// or logged.
func ReconstructEvidence(text string, d Detection, context int) string {
	normalized := Normalize(text)
	if d.Start < 0 || d.End > len(normalized) || d.Start > d.End {
		return ""
	}

	start := d.Start - context
	if start < 0 {
		start = 0
	}
	end := d.End + context
	if end > len(normalized) {
		end = len(normalized)
	}

	// Keep offsets on rune boundaries.
	for start > 0 && !utf8.RuneStart(normalized[start]) {
		start--
	}
	for end < len(normalized) && !utf8.RuneStart(normalized[end]) {
		end++
	}

	// Widen outward to whitespace so the window starts and ends on
	// whole words.
	for start > 0 && !isSpace(normalized[start-1]) {
		start--
	}
	for end < len(normalized) && !isSpace(normalized[end]) {
		end++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(normalized[start:end])
	if end < len(normalized) {
		b.WriteString("...")
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
