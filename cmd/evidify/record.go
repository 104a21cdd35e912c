package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/attest"
	"github.com/evidifyai/evidify/pkg/scan"
	"github.com/evidifyai/evidify/pkg/vault"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage clinical records",
}

var (
	showEvidence   bool
	attestResponse string
	attestNote     string
	structureType  string
)

var recordNewCmd = &cobra.Command{
	Use:   "new [client-id]",
	Short: "Create a record from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		content, err := readContent()
		if err != nil {
			return err
		}

		r, err := v.CreateRecord(ctx, args[0], content, "")
		if err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}
		fmt.Printf("%s %s\n", ui.Success.Sprint("Record created:"), r.ID)
		fmt.Printf("Run %s before signing.\n", ui.Code.Sprintf("evidify record scan %s", r.ID))
		return nil
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list [client-id]",
	Short: "List records for a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		summaries, err := v.ListRecords(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Println("No records")
			return nil
		}
		for _, s := range summaries {
			line := fmt.Sprintf("%s  %-10s  %5dw  %s", s.ID,
				ui.Status(s.Status).Sprint(s.Status), s.WordCount,
				s.UpdatedAt.Local().Format(time.DateTime))
			if s.SignedAt != nil {
				line += fmt.Sprintf("  signed %s", s.SignedAt.Local().Format(time.DateTime))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var recordShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		r, err := v.GetRecord(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}

		fmt.Printf("Record:  %s\n", r.ID)
		fmt.Printf("Client:  %s\n", r.ClientID)
		fmt.Printf("Status:  %s\n", ui.Status(r.Status).Sprint(r.Status))
		fmt.Printf("Words:   %d\n", r.WordCount)
		fmt.Printf("Updated: %s\n", r.UpdatedAt.Local().Format(time.DateTime))
		if r.SignedAt != nil {
			fmt.Printf("Signed:  %s\n", r.SignedAt.Local().Format(time.DateTime))
			fmt.Printf("Sig:     %s\n", ui.Muted.Sprint(r.Signature))
		}
		fmt.Println()
		fmt.Println(r.Content)

		if r.Structured != "" {
			fmt.Println()
			fmt.Println(ui.Info.Sprint("Structured note:"))
			fmt.Println(r.Structured)
		}

		if len(r.Detections) > 0 {
			fmt.Println()
			printDetections(ctx, r, showEvidence)
		}
		return nil
	},
}

// printDetections lists the record's findings with their attestation
// state. Evidence windows are reconstructed from the decrypted content
// on demand and shown on screen only.
func printDetections(ctx context.Context, r *vault.Record, evidence bool) {
	attested := make(map[string]attest.Attestation)
	if as, err := v.Attestations(ctx, r.ID); err == nil {
		for _, a := range as {
			attested[a.DetectionID] = a
		}
	}

	fmt.Println(ui.Info.Sprintf("Findings (%d):", len(r.Detections)))
	for _, g := range attest.Consolidate(r.Detections) {
		fmt.Printf("  %s %s\n", ui.Severity(g.Severity).Sprintf("[%s]", g.Severity), g.Category)
		for _, d := range g.Detections {
			marker := ui.Muted.Sprint("unattested")
			if a, ok := attested[d.ID]; ok {
				marker = ui.Success.Sprintf("attested: %s", a.Response)
			} else if d.RequiresAttestation() {
				marker = ui.Error.Sprint("attestation required")
			}
			fmt.Printf("    %s  %s\n", d.ID, marker)
			if evidence {
				if w := scan.ReconstructEvidence(r.Content, d, 30); w != "" {
					fmt.Printf("      %s\n", w)
				}
			}
		}
	}
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Replace record content from stdin",
	Long: `Replace the content of an unsigned record. Any previous scan
results and attestations are discarded; rescan before signing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		content, err := readContent()
		if err != nil {
			return err
		}
		if err := v.UpdateRecordContent(ctx, args[0], content, ""); err != nil {
			if errors.Is(err, vault.ErrRecordSigned) {
				return errors.New("record is signed and can no longer be edited")
			}
			return fmt.Errorf("failed to update record: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Record updated; previous analysis discarded."))
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an unsigned record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		if !confirm("Delete this record?") {
			fmt.Println("Aborted")
			return nil
		}
		if err := v.DeleteRecord(ctx, args[0]); err != nil {
			if errors.Is(err, vault.ErrRecordSigned) {
				return errors.New("signed records cannot be deleted")
			}
			return fmt.Errorf("failed to delete record: %w", err)
		}
		fmt.Println(ui.Success.Sprint("Record deleted"))
		return nil
	},
}

var recordScanCmd = &cobra.Command{
	Use:   "scan [id]",
	Short: "Run the content scanner over a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		scanner, err := buildScanner()
		if err != nil {
			return err
		}

		r, err := v.GetRecord(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}

		detections := scanner.Scan(r.Content)
		if err := v.SetDetections(ctx, r.ID, detections); err != nil {
			return fmt.Errorf("failed to store scan results: %w", err)
		}

		if len(detections) == 0 {
			fmt.Println(ui.Success.Sprint("No findings. The record is ready to sign."))
			return nil
		}

		r.Detections = detections
		printDetections(ctx, r, true)

		completeness := attest.CheckCompleteness(detections, nil)
		if !completeness.CanSign {
			fmt.Println()
			fmt.Printf("%s critical findings need attestation before signing; see %s\n",
				ui.Warning.Sprintf("%d", len(completeness.Missing)),
				ui.Code.Sprintf("evidify record attest %s <detection-id>", r.ID))
		}
		return nil
	},
}

// buildScanner returns the builtin scanner, extended with the
// configured pattern file when one is set.
func buildScanner() (*scan.Scanner, error) {
	if cfg.PatternFile == "" {
		return scan.NewScanner(), nil
	}
	scanner, err := scan.NewScannerWithFile(cfg.PatternFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern file: %w", err)
	}
	return scanner, nil
}

var recordAttestCmd = &cobra.Command{
	Use:   "attest [record-id] [detection-id]",
	Short: "Attest to a finding",
	Long: `Record a response to one finding. Without --response the allowed
quick picks for the finding are listed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		recordID, detectionID := args[0], args[1]

		r, err := v.GetRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}
		var detection *scan.Detection
		for i := range r.Detections {
			if r.Detections[i].ID == detectionID {
				detection = &r.Detections[i]
				break
			}
		}
		if detection == nil {
			return fmt.Errorf("detection %s not found on record", detectionID)
		}

		if attestResponse == "" {
			fmt.Printf("Responses for %s %s:\n",
				ui.Severity(detection.Severity).Sprintf("[%s]", detection.Severity), detection.Category)
			for _, pick := range attest.QuickPicks(detection.Category, detection.Severity) {
				note := ""
				if pick.RequiresNote {
					note = ui.Muted.Sprint("note required")
				}
				fmt.Printf("  %-28s %s %s\n", pick.Response, pick.Label, note)
			}
			fmt.Printf("Re-run with %s\n", ui.Code.Sprint("--response <response> [--note <note>]"))
			return nil
		}

		err = v.Attest(ctx, recordID, detectionID, attest.Response(attestResponse), attestNote)
		if err != nil {
			if errors.Is(err, attest.ErrResponseNotAllowed) {
				return fmt.Errorf("response %q is not allowed for this finding", attestResponse)
			}
			if errors.Is(err, attest.ErrNoteRequired) {
				return fmt.Errorf("response %q requires --note", attestResponse)
			}
			return fmt.Errorf("failed to attest: %w", err)
		}

		completeness, err := v.Completeness(ctx, recordID)
		if err != nil {
			return fmt.Errorf("failed to check completeness: %w", err)
		}
		if completeness.CanSign {
			fmt.Println(ui.Success.Sprint("Attested. The record is ready to sign."))
		} else {
			fmt.Printf("Attested. %d critical findings still need attestation.\n", len(completeness.Missing))
		}
		return nil
	},
}

var recordSignCmd = &cobra.Command{
	Use:   "sign [id]",
	Short: "Sign a record, making it immutable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		r, err := v.SignRecord(ctx, args[0])
		if err != nil {
			var incomplete *vault.AttestationsIncompleteError
			if errors.As(err, &incomplete) {
				fmt.Println(ui.Error.Sprint("Signing blocked: unattested critical findings."))
				for _, id := range incomplete.Missing {
					fmt.Printf("  %s\n", id)
				}
				return fmt.Errorf("attest each finding with %s",
					ui.Code.Sprintf("evidify record attest %s <detection-id>", args[0]))
			}
			return fmt.Errorf("failed to sign record: %w", err)
		}

		fmt.Println(ui.Success.Sprint("Record signed."))
		fmt.Printf("Signature: %s\n", ui.Muted.Sprint(r.Signature))
		return nil
	},
}

func init() {
	recordCmd.AddCommand(recordNewCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordShowCmd)
	recordCmd.AddCommand(recordUpdateCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordScanCmd)
	recordCmd.AddCommand(recordAttestCmd)
	recordCmd.AddCommand(recordSignCmd)
	recordCmd.AddCommand(recordStructureCmd)

	recordShowCmd.Flags().BoolVar(&showEvidence, "evidence", false, "Show the matched text windows for findings")
	recordAttestCmd.Flags().StringVar(&attestResponse, "response", "", "Quick-pick response code")
	recordAttestCmd.Flags().StringVar(&attestNote, "note", "", "Justification note")
	recordStructureCmd.Flags().StringVar(&structureType, "type", "progress", "Note type: progress, intake, crisis")
}
