// Package ui provides semantic terminal formatting for the evidify CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/evidifyai/evidify/pkg/scan"
	"github.com/evidifyai/evidify/pkg/vault"
)

// Formatter applies one semantic style to text. When color output is
// disabled the plain prefix and suffix are used instead.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments and returns the resulting string.
func (f Formatter) Sprint(a ...interface{}) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// Sprintf formats according to a format specifier and returns the
// resulting string.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	text := fmt.Sprintf(format, a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// noColor reports whether color output should be disabled.
func noColor() bool {
	// https://no-color.org/
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	// fatih/color's own detection covers TERM=dumb and non-terminals.
	return color.NoColor
}

// Semantic formatters for CLI output.
var (
	// Success formats confirmations. Green with color.
	Success = Formatter{color.New(color.FgGreen), "", ""}

	// Error formats failures. Red with color.
	Error = Formatter{color.New(color.FgRed), "", ""}

	// Warning formats advisory messages. Yellow with color.
	Warning = Formatter{color.New(color.FgYellow), "", ""}

	// Info formats hints and next-step suggestions. Cyan with color.
	Info = Formatter{color.New(color.FgCyan), "", ""}

	// Path formats file and directory paths. Yellow with color.
	Path = Formatter{color.New(color.FgYellow), "", ""}

	// Code formats runnable commands. Yellow with color, backticks without.
	Code = Formatter{color.New(color.FgYellow), "`", "`"}

	// Muted formats secondary detail such as IDs and timestamps.
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)

// Severity returns the formatter for a detection severity so listings
// color critical findings red and advisory ones yellow.
func Severity(s scan.Severity) Formatter {
	switch s {
	case scan.SeverityCritical:
		return Error
	case scan.SeverityHigh:
		return Warning
	default:
		return Info
	}
}

// Status returns the formatter for a record status.
func Status(s vault.RecordStatus) Formatter {
	switch s {
	case vault.StatusSigned:
		return Success
	case vault.StatusDetected:
		return Warning
	case vault.StatusAttestable:
		return Info
	default:
		return Muted
	}
}
