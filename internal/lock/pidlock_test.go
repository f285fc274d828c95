package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanny.pid")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	assert.Equal(t, path, l.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanny.pid")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "another supervisor"), "error should hint at the holder: %v", err)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanny.pid")

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestReleaseIsNilSafe(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())

	l2 := &Lock{}
	assert.NoError(t, l2.Release())
	assert.NoError(t, l2.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}

func TestAcquireCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "nanny.pid")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
