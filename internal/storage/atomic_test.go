package storage

// Test Plan for AtomicWriter:
// - NewAtomicWriter creates the output directory and clears stale temp files
// - WriteFile leaves only the final file behind
// - Commit of a missing temp file fails
// - Remove ignores files that do not exist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriter_ClearsStaleTemp(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".tmp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp", "stale.geojson"), []byte("{"), 0o644))

	_, err := NewAtomicWriter(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ".tmp", "stale.geojson"))
	assert.True(t, os.IsNotExist(err))
}

func TestAtomicWriter_Write(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewAtomicWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteFile("a.txt", []byte("hello")))
	require.NoError(t, w.WriteFile("b.json", []byte(`{"n": 1}`)))

	data, err := os.ReadFile(w.Path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = os.ReadFile(w.Path("b.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, ".tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAtomicWriter_CommitAndRemove(t *testing.T) {
	t.Parallel()

	w, err := NewAtomicWriter(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, w.Commit("never-written"))

	require.NoError(t, w.WriteFile("x", []byte("1")))
	require.NoError(t, w.Remove("x"))
	require.NoError(t, w.Remove("x"))

	_, err = os.Stat(w.Path("x"))
	assert.True(t, os.IsNotExist(err))
}
