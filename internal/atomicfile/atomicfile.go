// Package atomicfile replaces files so readers only ever see the old or the
// new content.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kingrea/lattice-sprint/internal/sprint"
)

const tempPattern = ".sprint-status-*.tmp"

// Write stores data at path through a temp file in the same directory and a
// single rename. On any failure the temp file is removed, the target is left
// as it was, and an *sprint.IoError naming path is returned. The parent
// directory is created if needed.
func Write(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return &sprint.IoError{Op: "mkdir", Path: path, Err: err}
	}
	tmp, err := afero.TempFile(fsys, dir, tempPattern)
	if err != nil {
		return &sprint.IoError{Op: "create temp for", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = fsys.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &sprint.IoError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &sprint.IoError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &sprint.IoError{Op: "close", Path: path, Err: err}
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return &sprint.IoError{Op: "chmod", Path: path, Err: err}
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		return &sprint.IoError{Op: "rename", Path: path, Err: err}
	}
	success = true
	return nil
}
