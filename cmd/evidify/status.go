package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state",
	RunE: func(cmd *cobra.Command, args []string) error {
		state := v.State()
		fmt.Printf("Vault:  %s\n", ui.Path.Sprint(vaultDir))

		switch state {
		case vault.StateNoVault:
			fmt.Printf("State:  %s\n", ui.Muted.Sprint(state))
			fmt.Printf("Run %s to create a vault.\n", ui.Code.Sprint("evidify init"))
		case vault.StateReady:
			fmt.Printf("State:  %s\n", ui.Success.Sprint(state))
		case vault.StateKeychainLost:
			fmt.Printf("State:  %s\n", ui.Error.Sprint(state))
			fmt.Println(ui.Warning.Sprint("The database exists but the keychain entries are gone."))
			fmt.Println("Without the wrapped key the data cannot be decrypted.")
			fmt.Printf("Run %s to discard the unreadable database.\n",
				ui.Code.Sprint("evidify recover delete-database --confirm"))
		case vault.StateStaleKeychain:
			fmt.Printf("State:  %s\n", ui.Error.Sprint(state))
			fmt.Println(ui.Warning.Sprint("Keychain entries exist but the database is missing."))
			fmt.Printf("Run %s to clear them, then %s.\n",
				ui.Code.Sprint("evidify recover clear-keychain --confirm"),
				ui.Code.Sprint("evidify init"))
		default:
			fmt.Printf("State:  %s\n", state)
		}

		fmt.Printf("Policy: %s\n", cfg.PolicyMode)
		if cfg.IdleTimeoutMinutes > 0 {
			fmt.Printf("Lock:   after %d minutes idle\n", cfg.IdleTimeoutMinutes)
		} else {
			fmt.Println("Lock:   idle timeout disabled")
		}
		return nil
	},
}
