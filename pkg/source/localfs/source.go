// Copyright © 2018 One Concern

// Package localfs serves repository content from a directory.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/oneconcern/castor/pkg/source/status"
	"github.com/spf13/afero"
)

// Source reads objects below a root directory
type Source struct {
	fs   afero.Fs
	root string
}

// New source rooted at root on fs. A nil fs selects the OS filesystem.
func New(fs afero.Fs, root string) *Source {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Source{
		fs:   afero.NewBasePathFs(fs, root),
		root: root,
	}
}

func (s *Source) String() string {
	return "localfs@" + s.root
}

// Fetch copies the object at the slash-separated relative path rel into w
func (s *Source) Fetch(ctx context.Context, rel string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := filepath.FromSlash(path.Clean("/" + rel))

	fi, err := s.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return status.ErrNotFound.Wrap(fmt.Errorf("%s: %q", s, rel))
		}
		return fmt.Errorf("%s: stat %q: %w", s, rel, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s: %q is a directory", s, rel)
	}

	f, err := s.fs.Open(key)
	if err != nil {
		return fmt.Errorf("%s: open %q: %w", s, rel, err)
	}
	defer f.Close()

	if _, err = io.Copy(w, f); err != nil {
		return fmt.Errorf("%s: reading %q: %w", s, rel, err)
	}
	return nil
}
