//go:build !windows

package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MinAuditDiskSpace is the minimum free space required before an
// append is allowed. Running the chain into a full disk risks a torn
// write at the tail.
const MinAuditDiskSpace = 1024 * 1024 // 1 MB

// checkDiskSpace verifies sufficient free space in the vault directory
// before an append.
func (l *Log) checkDiskSpace() error {
	if l.dir == "" {
		return nil
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(l.dir, &stat); err != nil {
		// Vault directory may not exist yet; check its parent.
		if err := unix.Statfs(filepath.Dir(l.dir), &stat); err != nil {
			// Log warning but don't block the append.
			fmt.Fprintf(os.Stderr, "warning: failed to check disk space for audit: %v\n", err)
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}

	return nil
}
