// Package bootstrap implements the steps every capsule invocation that
// isn't a pure control-plane client takes before its real work begins:
// locate the trailer embedded in its own executable, decrypt and decode it,
// extract the workload files it names, and either detach a supervisor
// child (daemon start) or hand off to the transport client (spec.md §4.D).
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileOps is the subset of filesystem operations extraction needs,
// interfaced so tests can substitute an in-memory double instead of
// touching the real disk.
type FileOps interface {
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error
}

type defaultFileOps struct{}

// NewDefaultFileOps returns the FileOps implementation backed by the real
// filesystem.
func NewDefaultFileOps() FileOps {
	return &defaultFileOps{}
}

func (f *defaultFileOps) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (f *defaultFileOps) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// WriteFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never leaves a partially
// written destination file behind.
func (f *defaultFileOps) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".capsule-extract-*")
	if err != nil {
		return fmt.Errorf("bootstrap: creating temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bootstrap: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bootstrap: closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("bootstrap: setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("bootstrap: renaming into place: %w", err)
	}
	return nil
}
