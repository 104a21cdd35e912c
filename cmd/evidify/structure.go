package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/audit"
	"github.com/evidifyai/evidify/pkg/peer"
	"github.com/evidifyai/evidify/pkg/vault"
)

var recordStructureCmd = &cobra.Command{
	Use:   "structure [id]",
	Short: "Structure a note with the local model",
	Long: `Send the record content to the local model and store the returned
structured note alongside it. The model runs on this machine; nothing
leaves loopback. Structuring resets any previous scan results, so run
it before scanning.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		client, err := peer.New(cfg.PeerURL, cfg.PeerModel)
		if err != nil {
			return fmt.Errorf("failed to configure local model: %w", err)
		}
		if err := client.Available(ctx); err != nil {
			if errors.Is(err, peer.ErrNotAvailable) {
				return fmt.Errorf("local model at %s is not running", cfg.PeerURL)
			}
			return fmt.Errorf("failed to reach local model: %w", err)
		}

		r, err := v.GetRecord(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}

		stop := startSpinner("Structuring note...")
		structured, err := client.Structure(ctx, r.Content, peer.NoteType(structureType))
		stop()
		if err != nil {
			return fmt.Errorf("failed to structure note: %w", err)
		}

		// Only the fact that the model ran is recorded; the text that
		// crossed loopback never reaches the audit chain.
		if err := v.AppendAudit(ctx, audit.Params{
			EventType:    audit.EventPeerAnalysis,
			ResourceType: audit.ResourceRecord,
			ResourceID:   r.ID,
			Outcome:      audit.OutcomeSuccess,
		}); err != nil {
			return fmt.Errorf("failed to record analysis: %w", err)
		}

		if err := v.UpdateRecordContent(ctx, r.ID, r.Content, structured); err != nil {
			if errors.Is(err, vault.ErrRecordSigned) {
				return errors.New("record is signed and can no longer be edited")
			}
			return fmt.Errorf("failed to store structured note: %w", err)
		}

		fmt.Println(ui.Success.Sprint("Structured note stored."))
		fmt.Printf("Run %s before signing.\n", ui.Code.Sprintf("evidify record scan %s", r.ID))
		return nil
	},
}
