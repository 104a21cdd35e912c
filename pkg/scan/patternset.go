package scan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternSet is the on-disk format for supplemental pattern libraries.
// Practices can extend or override the built-in matchers without a
// rebuild:
//
//	version: 1
//	patterns:
//	  - id: practice-custom-risk
//	    category: clinical-risk-other
//	    title: Custom Risk Language
//	    expressions:
//	      - '(?i)\bcustom phrase\b'
type PatternSet struct {
	Version  int       `yaml:"version"`
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatternFile reads and validates a YAML pattern set.
func LoadPatternFile(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scan: failed to read pattern set: %w", err)
	}
	return ParsePatternSet(data)
}

// ParsePatternSet parses YAML pattern set bytes.
func ParsePatternSet(data []byte) (*PatternSet, error) {
	var set PatternSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("scan: failed to parse pattern set: %w", err)
	}
	if set.Version != 1 {
		return nil, fmt.Errorf("scan: unsupported pattern set version %d", set.Version)
	}
	for _, p := range set.Patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("scan: pattern set contains a pattern without an id")
		}
	}
	return &set, nil
}

// NewScannerWithFile builds a scanner with the built-in library plus a
// YAML pattern set merged on top.
func NewScannerWithFile(path string) (*Scanner, error) {
	s := NewScanner()
	set, err := LoadPatternFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.AddPatterns(set.Patterns); err != nil {
		return nil, err
	}
	return s, nil
}
