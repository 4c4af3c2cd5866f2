package storage

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// AtomicWriter handles atomic file writing using temp → rename pattern.
type AtomicWriter struct {
	outputDir string
	tempDir   string
}

// NewAtomicWriter creates a new atomic writer, clearing stale temp files
// left behind by an interrupted run.
func NewAtomicWriter(outputDir string) (*AtomicWriter, error) {
	tempDir := filepath.Join(outputDir, ".tmp")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}
	if err := os.RemoveAll(tempDir); err != nil {
		return nil, errors.Wrap(err, "failed to clean temp directory")
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}

	return &AtomicWriter{outputDir: outputDir, tempDir: tempDir}, nil
}

// Path returns the final location of filename.
func (w *AtomicWriter) Path(filename string) string {
	return filepath.Join(w.outputDir, filename)
}

// TempPath returns a scratch location for filename; pass it to Commit
// once the file is complete.
func (w *AtomicWriter) TempPath(filename string) string {
	return filepath.Join(w.tempDir, filename)
}

// WriteFile writes data to filename atomically.
func (w *AtomicWriter) WriteFile(filename string, data []byte) error {
	tempPath := w.TempPath(filename)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write temp file %s", filename)
	}
	return w.Commit(filename)
}

// Commit renames the temp file for filename to its final location.
func (w *AtomicWriter) Commit(filename string) error {
	tempPath := w.TempPath(filename)
	if err := os.Rename(tempPath, w.Path(filename)); err != nil {
		os.Remove(tempPath)
		return errors.Wrapf(err, "failed to rename temp file %s", filename)
	}
	return nil
}

// Remove deletes filename from the output directory if it exists.
func (w *AtomicWriter) Remove(filename string) error {
	if err := os.Remove(w.Path(filename)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", filename)
	}
	return nil
}
