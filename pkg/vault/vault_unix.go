//go:build !windows

package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MinDiskSpaceBytes is the minimum free space required before the
// vault writes anything.
const MinDiskSpaceBytes = 10 * 1024 * 1024

// checkDiskSpaceForWrite verifies sufficient disk space before write
// operations. A failed stat is a warning, not a blocker.
func (v *Vault) checkDiskSpaceForWrite(dataSize int) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(v.dir, &stat); err != nil {
		// Vault directory may not exist yet; check the parent.
		if err := unix.Statfs(filepath.Dir(v.dir), &stat); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to check disk space: %v\n", err)
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, available/(1024*1024), required/(1024*1024))
	}
	return nil
}
