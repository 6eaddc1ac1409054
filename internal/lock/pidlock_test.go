package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "run", "workbench.lock")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "workbench.lock")
	first, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	_, err = AcquirePIDLock(lockPath)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	assert.NoError(t, second.Release())
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := AcquirePIDLock("")
	assert.Error(t, err)
}
