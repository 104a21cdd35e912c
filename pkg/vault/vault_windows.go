//go:build windows

package vault

// checkDiskSpaceForWrite is a no-op on Windows; the first short write
// surfaces the condition instead.
func (v *Vault) checkDiskSpaceForWrite(dataSize int) error {
	return nil
}
