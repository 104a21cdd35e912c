package vault

import (
	"errors"
	"fmt"
	"regexp"
)

// Passphrase length bounds. Complexity is advisory only; length is the
// hard requirement.
const (
	MinPassphraseLength = 8
	MaxPassphraseLength = 128
)

var (
	ErrPassphraseTooShort = errors.New("vault: passphrase must be at least 8 characters")
	ErrPassphraseTooLong  = errors.New("vault: passphrase must be at most 128 characters")
)

// PassphraseStrength represents the estimated strength of a passphrase.
type PassphraseStrength int

const (
	PassphraseWeak PassphraseStrength = iota
	PassphraseFair
	PassphraseGood
	PassphraseStrong
)

// String returns a human-readable representation of passphrase strength.
func (s PassphraseStrength) String() string {
	switch s {
	case PassphraseWeak:
		return "weak"
	case PassphraseFair:
		return "fair"
	case PassphraseGood:
		return "good"
	case PassphraseStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PassphraseCheck contains the result of passphrase validation.
type PassphraseCheck struct {
	Valid    bool               // Whether the passphrase meets minimum requirements
	Err      error              // Set when Valid is false
	Strength PassphraseStrength // Estimated strength
	Warnings []string           // Suggestions for improvement (not errors)
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>\-_=+\[\]\\;'~/\x60 ]`)
)

// ValidatePassphrase enforces the length bounds and estimates strength.
// Complexity shortfalls produce warnings, never errors.
func ValidatePassphrase(passphrase string) *PassphraseCheck {
	result := &PassphraseCheck{Valid: true, Strength: PassphraseFair}

	if len(passphrase) < MinPassphraseLength {
		result.Valid = false
		result.Err = ErrPassphraseTooShort
		result.Strength = PassphraseWeak
		return result
	}
	if len(passphrase) > MaxPassphraseLength {
		result.Valid = false
		result.Err = ErrPassphraseTooLong
		result.Strength = PassphraseWeak
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.MatchString(passphrase) {
			complexity++
		}
	}

	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider mixing uppercase, lowercase, numbers, and symbols")
	}
	if len(passphrase) < 12 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Longer passphrases (%d+ characters) are more secure", 12))
	}

	switch {
	case complexity >= 3 && len(passphrase) >= 16:
		result.Strength = PassphraseStrong
	case complexity >= 2 && len(passphrase) >= 12:
		result.Strength = PassphraseGood
	case complexity >= 2 || len(passphrase) >= 12:
		result.Strength = PassphraseFair
	default:
		result.Strength = PassphraseWeak
	}

	return result
}
