//go:build !darwin && !linux

package storage

// No detector on this platform; every path is treated as local.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
