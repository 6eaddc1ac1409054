package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// remoteFilesystems are mounts where flock and SQLite locking cannot be
// trusted.
var remoteFilesystems = []string{"9p", "afpfs", "afs", "ceph", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// ErrNetworkFilesystem is matched by every *FilesystemError.
var ErrNetworkFilesystem = errors.New("state path is on a network filesystem")

// FilesystemError reports a state path that resolved to a remote mount.
type FilesystemError struct {
	Path   string
	Mount  string
	FSType string
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s: %q (checked %q) is on %q; set state.path to a local disk",
		ErrNetworkFilesystem, e.Path, e.Mount, e.FSType)
}

func (e *FilesystemError) Is(target error) bool { return target == ErrNetworkFilesystem }

type fsDetector func(path string) (string, error)

// CheckLocalFilesystem refuses a state path that lives on a network mount.
// The path need not exist yet; its closest existing ancestor is inspected.
func CheckLocalFilesystem(path string) error {
	return checkLocal(path, detectFilesystemType)
}

func checkLocal(path string, detect fsDetector) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("state path is empty")
	}
	mount, err := existingAncestor(path)
	if err != nil {
		return err
	}
	fsType, err := detect(mount)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", mount, err)
	}
	if isRemote(fsType) {
		return &FilesystemError{Path: path, Mount: mount, FSType: fsType}
	}
	return nil
}

// existingAncestor returns path itself if it exists, otherwise its closest
// existing parent, with symlinks resolved.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve state path %q: %w", path, err)
	}
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		switch {
		case err == nil:
			return resolved, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("resolve state path %q: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("resolve state path %q: %w", path, os.ErrNotExist)
		}
		dir = parent
	}
}

func isRemote(fsType string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(fsType)))
}
