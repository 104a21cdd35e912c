package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/crypto"
	"github.com/evidifyai/evidify/pkg/vault"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new encrypted vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		defer v.Lock(ctx)

		fmt.Printf("Initializing vault at %s\n", ui.Path.Sprint(vaultDir))

		fmt.Print("Enter passphrase: ")
		first, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		defer crypto.SecureWipe(first)
		fmt.Println()

		fmt.Print("Confirm passphrase: ")
		second, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		defer crypto.SecureWipe(second)
		fmt.Println()

		if string(first) != string(second) {
			return fmt.Errorf("passphrases do not match")
		}

		check := vault.ValidatePassphrase(string(first))
		if !check.Valid {
			return fmt.Errorf("passphrase rejected: %w", check.Err)
		}
		fmt.Printf("Passphrase strength: %s\n", check.Strength)
		for _, warning := range check.Warnings {
			fmt.Println(ui.Warning.Sprintf("Warning: %s", warning))
		}

		stop := startSpinner("Creating vault...")
		err = v.Create(ctx, string(first))
		stop()
		if err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}

		fmt.Println(ui.Success.Sprint("Vault created. There is no passphrase recovery: if the passphrase is lost, the data is lost."))
		return nil
	},
}
