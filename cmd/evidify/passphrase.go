package main

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/vault"
)

var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Passphrase operations",
}

var passphraseChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the vault passphrase",
	Long: `Change the passphrase by re-wrapping the vault key.

The vault key itself does not change, so all records stay readable.
The change either fully succeeds or has no effect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		fmt.Print("Enter current passphrase: ")
		current, err := term.ReadPassword(int(syscall.Stdin))
		defer crypto.SecureWipe(current)
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		fmt.Println()

		fmt.Print("Enter new passphrase: ")
		next, err := term.ReadPassword(int(syscall.Stdin))
		defer crypto.SecureWipe(next)
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		fmt.Println()

		fmt.Print("Confirm new passphrase: ")
		confirmed, err := term.ReadPassword(int(syscall.Stdin))
		defer crypto.SecureWipe(confirmed)
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		fmt.Println()

		if string(next) != string(confirmed) {
			return errors.New("new passphrases do not match")
		}

		check := vault.ValidatePassphrase(string(next))
		if !check.Valid {
			return fmt.Errorf("passphrase rejected: %w", check.Err)
		}
		fmt.Printf("New passphrase strength: %s\n", check.Strength)
		for _, warning := range check.Warnings {
			fmt.Println(ui.Warning.Sprintf("Warning: %s", warning))
		}

		stop := startSpinner("Re-wrapping vault key...")
		err = v.ChangePassphrase(ctx, string(current), string(next))
		stop()
		if err != nil {
			if errors.Is(err, vault.ErrInvalidPassphrase) {
				return errors.New("current passphrase is incorrect")
			}
			return fmt.Errorf("failed to change passphrase: %w", err)
		}

		fmt.Println(ui.Success.Sprint("Passphrase changed."))
		return nil
	},
}

func init() {
	passphraseCmd.AddCommand(passphraseChangeCmd)
}
