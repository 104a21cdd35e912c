//go:build !windows

package export

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// networkFilesystems are mount types that put the destination on
// another machine.
var networkFilesystems = map[string]bool{
	"nfs":        true,
	"nfs4":       true,
	"cifs":       true,
	"smbfs":      true,
	"smb3":       true,
	"fuse.sshfs": true,
	"9p":         true,
	"afpfs":      true,
	"webdav":     true,
}

// removablePrefixes are conventional auto-mount roots for removable
// media.
var removablePrefixes = []string{
	"/media/",
	"/run/media/",
	"/mnt/",
	"/Volumes/",
}

// cloudXattrs are extended attributes providers stamp on their sync
// directories.
var cloudXattrs = []string{
	"com.apple.clouddocs.security",
	"com.dropbox.attrs",
	"com.dropbox.ignored",
	"user.com.dropbox.attrs",
}

// SystemSignals reads classification signals from the live system:
// the mount table for filesystem kinds and extended attributes for
// cloud sync markers.
type SystemSignals struct {
	mountsPath string
}

// NewSystemSignals returns the production signal provider.
func NewSystemSignals() *SystemSignals {
	return &SystemSignals{mountsPath: "/proc/mounts"}
}

// FilesystemKind reports "network", "removable", "local", or "" when
// the mount table is unavailable.
func (s *SystemSignals) FilesystemKind(path string) string {
	for _, prefix := range removablePrefixes {
		if strings.HasPrefix(path, prefix) {
			return "removable"
		}
	}

	fsType, ok := s.mountType(path)
	if !ok {
		return ""
	}
	if networkFilesystems[fsType] || strings.HasPrefix(fsType, "fuse.") {
		return "network"
	}
	return "local"
}

// mountType finds the filesystem type of the longest mount point
// prefixing the path.
func (s *SystemSignals) mountType(path string) (string, bool) {
	f, err := os.Open(s.mountsPath)
	if err != nil {
		// Not a Linux-style mount table (e.g. Darwin); no signal.
		return "", false
	}
	defer f.Close()

	var (
		bestLen  int
		bestType string
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if mountPoint == "/" || strings.HasPrefix(path, mountPoint+"/") || path == mountPoint {
			if len(mountPoint) > bestLen {
				bestLen = len(mountPoint)
				bestType = fsType
			}
		}
	}
	if bestType == "" {
		return "", false
	}
	return bestType, true
}

// HasCloudMarker checks the path and its parent for provider extended
// attributes.
func (s *SystemSignals) HasCloudMarker(path string) bool {
	for _, candidate := range []string{path, parentDir(path)} {
		for _, attr := range cloudXattrs {
			if _, err := unix.Getxattr(candidate, attr, nil); err == nil {
				return true
			}
		}
	}
	return false
}

func parentDir(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "/"
}
