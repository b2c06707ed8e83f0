// Copyright © 2018 One Concern

// Package fsutil provides atomic file placement over afero filesystems.
//
// Files are staged under a temporary name in their target directory, then renamed into place:
// readers either see the previous content or the complete new content.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// StagePrefix is the name prefix of files staged for an atomic rename
const StagePrefix = ".stage-"

// WriteFileAtomic writes data to path with the given permissions.
//
// Parent directories are created as needed. An existing file at path is replaced.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(fs, path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams content produced by fill to path.
//
// Whenever fill or any step of the placement fails, the staged file is removed
// and nothing is visible at path.
func WriteAtomic(fs afero.Fs, path string, perm os.FileMode, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err = fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ensuring directories for %q: %w", path, err)
	}

	staged, err := afero.TempFile(fs, dir, StagePrefix+filepath.Base(path)+"-")
	if err != nil {
		return fmt.Errorf("staging %q: %w", path, err)
	}
	stagedName := staged.Name()

	defer func() {
		if err != nil {
			_ = fs.Remove(stagedName)
		}
	}()

	if err = fill(staged); err != nil {
		_ = staged.Close()
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err = staged.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", path, err)
	}
	if err = fs.Chmod(stagedName, perm); err != nil {
		return fmt.Errorf("setting mode on %q: %w", path, err)
	}
	if err = fs.Rename(stagedName, path); err != nil {
		return fmt.Errorf("placing %q: %w", path, err)
	}
	return nil
}

// Lstat returns file info without following a final symlink whenever the filesystem supports it
func Lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if lst, ok := fs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}

// Exists tells if any entry (file, directory, symlink, even dangling) is present at path
func Exists(fs afero.Fs, path string) (bool, error) {
	_, err := Lstat(fs, path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// IsStaged tells if a base name designates a file staged by WriteAtomic
func IsStaged(name string) bool {
	return strings.HasPrefix(name, StagePrefix)
}
