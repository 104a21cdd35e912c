package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
)

var recoverConfirm bool

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover from a mismatched keychain and database",
	Long: `Recovery commands for the two states where the keychain and the
database disagree. Both are destructive and require --confirm:

  clear-keychain   keychain entries exist but the database is missing
  delete-database  the database exists but its keychain entries are gone

There is no way to decrypt a database whose wrapped key was lost.`,
}

var recoverClearCmd = &cobra.Command{
	Use:   "clear-keychain",
	Short: "Remove orphaned keychain entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !recoverConfirm {
			fmt.Println(ui.Warning.Sprint("This permanently removes the stored vault key."))
			if !confirm("Remove the orphaned keychain entries?") {
				fmt.Println("Aborted")
				return nil
			}
			recoverConfirm = true
		}
		if err := v.ClearStaleKeystore(recoverConfirm); err != nil {
			return fmt.Errorf("failed to clear keychain: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Keychain entries removed."))
		fmt.Printf("Run %s to start a new vault.\n", ui.Code.Sprint("evidify init"))
		return nil
	},
}

var recoverDeleteCmd = &cobra.Command{
	Use:   "delete-database",
	Short: "Delete the unreadable vault database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !recoverConfirm {
			fmt.Println(ui.Warning.Sprint("This permanently deletes all records. They cannot be decrypted without the lost key."))
			if !confirm("Delete the vault database?") {
				fmt.Println("Aborted")
				return nil
			}
			recoverConfirm = true
		}
		if err := v.DeleteVaultDatabase(recoverConfirm); err != nil {
			return fmt.Errorf("failed to delete database: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Database deleted."))
		fmt.Printf("Run %s to start a new vault.\n", ui.Code.Sprint("evidify init"))
		return nil
	},
}

func init() {
	recoverCmd.AddCommand(recoverClearCmd)
	recoverCmd.AddCommand(recoverDeleteCmd)
	recoverCmd.PersistentFlags().BoolVar(&recoverConfirm, "confirm", false, "Skip the confirmation prompt")
}
