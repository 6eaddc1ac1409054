package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(fsType string) fsDetector {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalAllowsLocalDisk(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	assert.NoError(t, checkLocal(dbPath, fixedFS("apfs")))
	assert.NoError(t, checkLocal(dbPath, fixedFS("0xef53")))
}

func TestCheckLocalRejectsNetworkMount(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "state.db")
	err := checkLocal(dbPath, fixedFS("smbfs"))
	require.ErrorIs(t, err, ErrNetworkFilesystem)

	var fsErr *FilesystemError
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, "smbfs", fsErr.FSType)
	assert.Equal(t, dbPath, fsErr.Path)
	assert.Contains(t, err.Error(), "state.path")
}

func TestCheckLocalInspectsClosestExistingAncestor(t *testing.T) {
	t.Parallel()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	dbPath := filepath.Join(root, "nested", "dir", "state.db")

	var inspected string
	err = checkLocal(dbPath, func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckLocalFollowsSymlinkedStateDir(t *testing.T) {
	t.Parallel()

	target, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), "state")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	var inspected string
	err = checkLocal(filepath.Join(link, "state.db"), func(path string) (string, error) {
		inspected = path
		return "nfs", nil
	})
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Equal(t, target, inspected)
}

func TestCheckLocalRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	assert.Error(t, checkLocal("  ", fixedFS("ext4")))
}

func TestIsRemote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: " SMBFS ", want: true},
		{fs: "9p", want: true},
		{fs: "ceph", want: true},
		{fs: "apfs", want: false},
		{fs: "ext4", want: false},
		{fs: "0x6969", want: false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isRemote(tc.fs), tc.fs)
	}
}
