//go:build windows

package config

import "os"

// openConfigFile opens the file on Windows. There is no O_NOFOLLOW;
// symlink creation requires elevated privileges there, and the
// permission check remains the primary control.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// checkFileOwnership is a no-op on Windows; ownership is expressed
// through ACLs, not POSIX uids.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
