package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/evidifyai/evidify/internal/config"
	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/keystore"
	"github.com/evidifyai/evidify/pkg/vault"
)

var (
	vaultDir string
	cfg      *config.Config
	v        *vault.Vault
)

var rootCmd = &cobra.Command{
	Use:   "evidify",
	Short: "evidify is an offline trust core for clinical records",
	Long: `An encrypted, single-user record keeper for clinicians.
All data stays on this machine: notes are encrypted at rest, every
action lands in a tamper-evident audit chain, and exports to risky
destinations are flagged before anything leaves the vault.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and wires up the
	// vault handle. Nothing touches disk or the keychain until a
	// command actually needs them.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		vaultDir = filepath.Join(home, ".evidify")

		cfg, err = config.Load(vaultDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ks, err := keystore.Open()
		if err != nil {
			return fmt.Errorf("failed to open system keychain: %w", err)
		}

		v = vault.New(vaultDir, ks)
		v.SetIdleTimeout(cfg.IdleTimeout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(passphraseCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(exportCmd)
}

// ensureUnlocked prompts for the passphrase and unlocks the vault if it
// is not already open. The passphrase bytes are wiped as soon as the
// key derivation finishes.
func ensureUnlocked(cmd *cobra.Command) error {
	if !v.IsLocked() {
		return nil
	}

	switch v.State() {
	case vault.StateNoVault:
		return fmt.Errorf("no vault found; run %s first", ui.Code.Sprint("evidify init"))
	case vault.StateKeychainLost:
		return fmt.Errorf("keychain entries are missing; see %s", ui.Code.Sprint("evidify recover"))
	case vault.StateStaleKeychain:
		return fmt.Errorf("database is missing but keychain entries remain; see %s", ui.Code.Sprint("evidify recover"))
	}

	fmt.Print("Enter passphrase: ")
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}
	defer crypto.SecureWipe(passphrase)
	fmt.Println()

	stop := startSpinner("Unlocking vault...")
	err = v.Unlock(cmd.Context(), string(passphrase))
	stop()
	if err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	return nil
}

// startSpinner shows a progress spinner for slow operations (key
// derivation, local model calls). The returned func stops it. No-op
// when stdout is not a terminal.
func startSpinner(message string) func() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}

// readLine reads a single line from stdin, trimming the trailing
// newline.
func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readContent reads multi-line note content from stdin until EOF.
func readContent() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("Enter note content (Ctrl+D to finish):")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := readLine()
	if err != nil {
		return false
	}
	return answer == "y" || answer == "Y"
}

// parseDuration parses durations like "30d", "12h", "1y" for audit
// filters.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
