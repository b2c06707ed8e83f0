// Copyright © 2018 One Concern

// Package layout names the directories of repositories and stores, and bootstraps them.
package layout

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/oneconcern/castor/internal/fsutil"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/spf13/afero"
)

const (
	// DefaultChunks is the default name of the chunks directory
	DefaultChunks = "chunks"

	// DefaultManifests is the default name of the manifests directory
	DefaultManifests = "manifests"

	// DefaultArtifacts is the default name of the registry file in a repository,
	// and of the artifacts directory in a store
	DefaultArtifacts = "artifacts"
)

const dirPerm = 0755

// Layout holds the names of the well-known entries shared by repositories and stores.
//
// In a repository, Artifacts names the registry file. In a store, it names the directory
// of published artifact pointers.
type Layout struct {
	Chunks    string `json:"chunks" yaml:"chunks"`
	Manifests string `json:"manifests" yaml:"manifests"`
	Artifacts string `json:"artifacts" yaml:"artifacts"`
}

// Default layout
func Default() Layout {
	return Layout{
		Chunks:    DefaultChunks,
		Manifests: DefaultManifests,
		Artifacts: DefaultArtifacts,
	}
}

// Validate that all names are set and designate single, distinct path elements
func (l Layout) Validate() error {
	seen := make(map[string]struct{}, 3)
	for _, name := range []string{l.Chunks, l.Manifests, l.Artifacts} {
		if name == "" || name == "." || name == ".." || path.Base(name) != name || filepath.Base(name) != name {
			return status.ErrMalformed.Wrap(fmt.Errorf("invalid layout entry name %q", name))
		}
		if _, dup := seen[name]; dup {
			return status.ErrMalformed.Wrap(fmt.Errorf("layout entry name %q is used twice", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ChunkPath is the relative, slash-separated path to a chunk
func (l Layout) ChunkPath(id string) string {
	return path.Join(l.Chunks, id)
}

// ManifestPath is the relative, slash-separated path to a manifest
func (l Layout) ManifestPath(id string) string {
	return path.Join(l.Manifests, id)
}

// RegistryPath is the relative, slash-separated path to the registry in a repository
func (l Layout) RegistryPath() string {
	return l.Artifacts
}

// ArtifactPath is the relative, slash-separated path to an artifact pointer in a store
func (l Layout) ArtifactPath(name string) string {
	return path.Join(l.Artifacts, name)
}

// Join a root directory with a relative, slash-separated path
func Join(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// CreateRepo bootstraps an empty repository at dir.
//
// It fails with status.ErrAlreadyExists if anything is present at dir.
// Nothing is rolled back when a later step fails.
func CreateRepo(fs afero.Fs, dir string, l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := mustNotExist(fs, dir); err != nil {
		return err
	}
	return mkdirs(fs, dir, l.Chunks, l.Manifests)
}

// CreateStore bootstraps an empty store at dir.
//
// The cache root is created if not empty, and may already exist.
// It fails with status.ErrAlreadyExists if anything is present at dir.
func CreateStore(fs afero.Fs, dir, cacheRoot string, l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := mustNotExist(fs, dir); err != nil {
		return err
	}
	if err := mkdirs(fs, dir, l.Chunks, l.Manifests, l.Artifacts); err != nil {
		return err
	}
	if cacheRoot == "" {
		return nil
	}
	if err := fs.MkdirAll(cacheRoot, dirPerm); err != nil {
		return status.ErrIO.Wrap(fmt.Errorf("creating cache root %q: %w", cacheRoot, err))
	}
	return nil
}

func mustNotExist(fs afero.Fs, dir string) error {
	exists, err := fsutil.Exists(fs, dir)
	if err != nil {
		return status.ErrIO.Wrap(fmt.Errorf("checking %q: %w", dir, err))
	}
	if exists {
		return status.ErrAlreadyExists.Wrap(fmt.Errorf("%q", dir))
	}
	return nil
}

func mkdirs(fs afero.Fs, dir string, names ...string) error {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := fs.MkdirAll(p, dirPerm); err != nil {
			return status.ErrIO.Wrap(fmt.Errorf("creating %q: %w", p, err))
		}
	}
	return nil
}
