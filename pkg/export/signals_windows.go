//go:build windows

package export

// SystemSignals is the production signal provider. On Windows no
// mount table or xattr signals are read; classification falls back to
// the name heuristics, and unnamed destinations stay unknown.
type SystemSignals struct{}

// NewSystemSignals returns the production signal provider.
func NewSystemSignals() *SystemSignals {
	return &SystemSignals{}
}

// FilesystemKind reports no signal.
func (s *SystemSignals) FilesystemKind(path string) string {
	return ""
}

// HasCloudMarker reports no signal.
func (s *SystemSignals) HasCloudMarker(path string) bool {
	return false
}
