package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidifyai/evidify/internal/ui"
	"github.com/evidifyai/evidify/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit chain operations",
}

var (
	auditLimit  int64
	auditOffset int64

	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		entries, err := v.ListAuditEntries(ctx, auditLimit, auditOffset)
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%6d  %s  %-20s %s", e.Sequence, e.Timestamp, e.EventType, outcomeFormatter(e.Outcome).Sprint(e.Outcome))
			if e.ResourceID != "" {
				line += fmt.Sprintf("  %s:%s", e.ResourceType, e.ResourceID)
			}
			if e.PathClass != "" {
				line += fmt.Sprintf("  class:%s", e.PathClass)
			}
			fmt.Println(line)
		}
		fmt.Printf("\nTotal: %d entries\n", len(entries))
		return nil
	},
}

func outcomeFormatter(o audit.Outcome) ui.Formatter {
	switch o {
	case audit.OutcomeSuccess:
		return ui.Success
	case audit.OutcomeBlocked:
		return ui.Warning
	default:
		return ui.Error
	}
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		result, err := v.VerifyAuditChain(ctx)
		if err != nil {
			return fmt.Errorf("failed to verify audit chain: %w", err)
		}

		if result.Valid {
			fmt.Println(ui.Success.Sprintf("✓ Audit chain intact: %d entries verified", result.Verified))
			return nil
		}

		fmt.Println(ui.Error.Sprint("✗ Audit chain verification FAILED"))
		fmt.Printf("  Entries total:    %d\n", result.Entries)
		fmt.Printf("  Entries verified: %d\n", result.Verified)
		fmt.Printf("  First bad entry:  sequence %d\n", result.BrokenAt)
		fmt.Println("  Entries before the break remain trustworthy and readable.")
		return fmt.Errorf("audit chain integrity check failed")
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit chain as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureUnlocked(cmd); err != nil {
			return err
		}
		defer v.Lock(ctx)

		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", auditExportFormat)
		}

		var since, until time.Time
		if auditExportSince != "" {
			duration, err := parseDuration(auditExportSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}
		if auditExportUntil != "" {
			var err error
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		data, err := v.ExportAuditLog(ctx, auditExportFormat, since, until)
		if err != nil {
			return fmt.Errorf("failed to export audit chain: %w", err)
		}

		if auditExportOutput == "" {
			os.Stdout.Write(data)
			return nil
		}

		absPath, err := filepath.Abs(auditExportOutput)
		if err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
		if err := os.WriteFile(absPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Audit chain exported to %s\n", ui.Path.Sprint(absPath))
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditListCmd.Flags().Int64Var(&auditLimit, "limit", 100, "Maximum number of entries to show")
	auditListCmd.Flags().Int64Var(&auditOffset, "offset", 0, "Number of entries to skip")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export entries since duration (e.g. 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export entries until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")
}
