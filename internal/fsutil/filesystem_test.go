package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemRoundTrip(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, fsys.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "out.txt")
	f, err := fsys.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, fsys.Exists(path))
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestOSFileSystemExists(t *testing.T) {
	fsys := OSFileSystem{}
	assert.False(t, fsys.Exists(filepath.Join(t.TempDir(), "nonexistent")))
}

func TestMemoryFileSystemRoundTrip(t *testing.T) {
	m := NewMemoryFileSystem()

	require.NoError(t, m.MkdirAll("/out/run1", 0o755))
	assert.True(t, m.Exists("/out/run1"), "directory recorded")
	assert.True(t, m.Exists("/out"), "parent recorded")

	f, err := m.Create("/out/run1/a.html")
	require.NoError(t, err)
	_, err = f.Write([]byte("<html/>"))
	require.NoError(t, err)

	// Contents are committed on Close, not on Write.
	assert.False(t, m.Exists("/out/run1/a.html"), "file visible before Close")
	require.NoError(t, f.Close())

	data, err := m.ReadFile("/out/run1/a.html")
	require.NoError(t, err)
	assert.Equal(t, "<html/>", string(data))
	assert.Len(t, m.Files(), 1)
}

func TestMemoryFileSystemReadMissing(t *testing.T) {
	m := NewMemoryFileSystem()
	_, err := m.ReadFile("/nope")
	assert.True(t, os.IsNotExist(err), "want not-exist, got %v", err)
}
