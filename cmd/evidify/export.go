package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records under destination policy",
	Long: `Exports are checked against the destination before anything is
written. Cloud-synced folders, network shares and removable media are
flagged; in solo mode a warning can be overridden with --override, in
enterprise mode risky destinations are blocked outright. Every warned
or blocked attempt lands in the audit chain.`,
}

var exportOverride bool

// buildEngine wires the policy engine to the unlocked vault. The
// policy mode stored in the vault wins over the config file so an
// enterprise deployment cannot be downgraded by editing a plain file.
func buildEngine(ctx context.Context) (*export.Engine, error) {
	mode, err := v.GetSetting(ctx, "policy_mode", cfg.PolicyMode)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy mode: %w", err)
	}
	policy := export.Policy{
		Mode:      export.Mode(mode),
		Allowlist: cfg.ExportAllowlist,
	}
	return export.NewEngine(policy, export.NewSystemSignals(), v)
}

// exportArtifact is the on-disk shape of an exported record.
type exportArtifact struct {
	RecordID   string     `json:"record_id"`
	ClientID   string     `json:"client_id"`
	Status     string     `json:"status"`
	Content    string     `json:"content"`
	Structured string     `json:"structured,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	SignedAt   *time.Time `json:"signed_at,omitempty"`
	ExportedAt time.Time  `json:"exported_at"`
}

var exportRecordCmd = &cobra.Command{
	Use:   "record [record-id] [path]",
	Short: "Export a record to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		r, err := v.GetRecord(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}

		artifact, err := json.MarshalIndent(exportArtifact{
			RecordID:   r.ID,
			ClientID:   r.ClientID,
			Status:     string(r.Status),
			Content:    r.Content,
			Structured: r.Structured,
			Signature:  r.Signature,
			SignedAt:   r.SignedAt,
			ExportedAt: time.Now().UTC(),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		decision, err := engine.RequestExport(ctx, args[1], artifact, exportOverride)
		if err != nil {
			if errors.Is(err, export.ErrExportBlocked) && decision != nil {
				return reportRefusal(decision)
			}
			return fmt.Errorf("failed to export record: %w", err)
		}

		if decision.Overridden {
			fmt.Println(ui.Warning.Sprintf("Warning overridden: destination classified as %s.", decision.Classification))
		}
		fmt.Printf("%s %s\n", ui.Success.Sprint("Exported to"), ui.Path.Sprint(decision.Path))
		return nil
	},
}

// reportRefusal explains a warn or block outcome and how to proceed.
func reportRefusal(d *export.Decision) error {
	fmt.Println(ui.Warning.Sprintf("Destination classified as %s.", d.Classification))
	if d.ParentFallback {
		fmt.Println(ui.Muted.Sprint("classification based on the nearest existing parent directory"))
	}
	switch d.Action {
	case export.ActionBlock:
		return errors.New("export blocked by policy; this destination is not permitted")
	default:
		return fmt.Errorf("export not written; re-run with %s to accept the risk", ui.Code.Sprint("--override"))
	}
}

var exportCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Classify a destination without exporting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}

		canonical, fallback, err := export.Canonicalize(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		class := engine.Classify(canonical)

		fmt.Printf("Path:           %s\n", ui.Path.Sprint(canonical))
		if fallback {
			fmt.Printf("Resolved via:   %s\n", ui.Muted.Sprint("nearest existing parent"))
		}
		formatter := ui.Success
		if class != export.ClassSafe {
			formatter = ui.Warning
		}
		fmt.Printf("Classification: %s\n", formatter.Sprint(class))
		return nil
	},
}

var exportModeCmd = &cobra.Command{
	Use:   "set-mode [solo|enterprise]",
	Short: "Set the export policy mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		mode := export.Mode(args[0])
		if mode != export.ModeSolo && mode != export.ModeEnterprise {
			return fmt.Errorf("invalid mode: %s (use 'solo' or 'enterprise')", args[0])
		}
		if err := v.SetSetting(ctx, "policy_mode", string(mode)); err != nil {
			return fmt.Errorf("failed to set policy mode: %w", err)
		}
		fmt.Printf("%s %s\n", ui.Success.Sprint("Policy mode set to"), mode)
		return nil
	},
}

func init() {
	exportCmd.AddCommand(exportRecordCmd)
	exportCmd.AddCommand(exportCheckCmd)
	exportCmd.AddCommand(exportModeCmd)

	exportRecordCmd.Flags().BoolVar(&exportOverride, "override", false, "Accept a warned destination (solo mode only)")
}
