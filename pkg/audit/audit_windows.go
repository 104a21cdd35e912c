//go:build windows

package audit

// checkDiskSpace on Windows returns nil as disk space checking is not
// implemented for Windows. Appends proceed without verification.
func (l *Log) checkDiskSpace() error {
	return nil
}
