package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryLockThenUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job-abc123.lock")
	l := New(path)

	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, l.Locked())

	require.NoError(t, l.Unlock())
}

func TestTryLockFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job-abc123.lock")
	first := New(path)
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer first.Unlock()

	second := New(path)
	ok, err = second.TryLock()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithJobLockRunsFnAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job-abc123.lock")
	ran := false

	err := WithJobLock(path, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	l := New(path)
	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok, "lock should be released after WithJobLock returns")
}

func TestWithJobLockReportsContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job-abc123.lock")
	holder := New(path)
	ok, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer holder.Unlock()

	err = WithJobLock(path, func() error { return nil })
	require.Error(t, err)
}
