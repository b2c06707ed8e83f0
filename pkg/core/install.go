// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oneconcern/castor/internal/fsutil"
	"github.com/oneconcern/castor/pkg/compress"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/oneconcern/castor/pkg/errors"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/manifest"
	"github.com/oneconcern/castor/pkg/metrics"
	"github.com/oneconcern/castor/pkg/registry"
	"github.com/oneconcern/castor/pkg/resolver"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// TempPrefix starts the names of pointers being published in the artifacts directory
	TempPrefix = ".tmp_"

	// maxTempNames bounds the search for a free temporary pointer name
	maxTempNames = 255
)

type symlinkFs interface {
	afero.Fs
	afero.Linker
	afero.Lstater
}

// Install the artifact registered as artifactName into a store, and returns its manifest hash.
//
// The registry is always fetched afresh from the sources, then the manifest and every chunk missing
// from the store are resolved through the cache. Chunks are verified against their identifier before
// being written to the store: a mismatch aborts the install with status.ErrIntegrity.
//
// Once all chunks are present, the artifact tree is materialized as symbolic links to the chunks under
// manifests/<hash>, and the pointer artifacts/<name> is atomically switched to this tree.
// A concurrent reader of the pointer sees either the previous or the new tree.
func Install(ctx context.Context, artifactName string, store Store, opts ...Option) (string, error) {
	s := newSettings(opts)
	start := time.Now()

	mh, err := install(ctx, artifactName, store, s)
	if err != nil {
		s.m.Installed(installOutcome(err), 0)
		return "", err
	}
	s.m.Installed(metrics.OutcomeSuccess, time.Since(start).Seconds())
	return mh, nil
}

func installOutcome(err error) string {
	if errors.Is(err, status.ErrNotFound) {
		return metrics.OutcomeNotFound
	}
	return metrics.OutcomeError
}

func install(ctx context.Context, artifactName string, store Store, s Settings) (string, error) {
	if err := ValidateArtifactName(artifactName); err != nil {
		return "", err
	}
	fs, ok := s.fs.(symlinkFs)
	if !ok {
		return "", status.ErrNotSupported.Wrap(fmt.Errorf("filesystem %s does not support symbolic links", s.fs.Name()))
	}
	l := store.layout()
	if err := l.Validate(); err != nil {
		return "", err
	}
	if ok, err := afero.DirExists(fs, store.Path); err != nil || !ok {
		return "", status.ErrNotFound.Wrap(fmt.Errorf("store %q is not a directory", store.Path))
	}
	if store.CacheRoot == "" {
		return "", status.ErrMalformed.Wrap(fmt.Errorf("no cache root configured for store %q", store.Path))
	}

	logger := s.l.With(zap.String("artifact", artifactName), zap.String("store", store.Path))
	res := resolver.New(fs, store.CacheRoot, store.Sources, resolver.Logger(s.l), resolver.Metrics(s.m))

	// registry
	registryPath, err := res.ResolveFresh(ctx, l.RegistryPath())
	if err != nil {
		return "", err
	}
	mh, err := registry.New(fs, registryPath).Get(artifactName)
	if err != nil {
		return "", err
	}
	logger = logger.With(zap.String("hash", mh))

	// manifest
	m, err := fetchManifest(ctx, fs, res, l, mh, s)
	if err != nil {
		return "", err
	}

	// chunks
	fetched, skipped, err := installChunks(ctx, fs, res, store.Path, l, m, s)
	if err != nil {
		return "", err
	}

	// tree
	treeDir, err := absPath(layout.Join(store.Path, l.ManifestPath(mh)))
	if err != nil {
		return "", err
	}
	if err := materializeTree(fs, treeDir, store.Path, l, m); err != nil {
		return "", err
	}

	// pointer
	if err := publish(fs, layout.Join(store.Path, l.Artifacts), artifactName, treeDir); err != nil {
		return "", err
	}

	logger.Info("artifact installed",
		zap.Int("files", len(m.Files)),
		zap.Int("chunks fetched", fetched),
		zap.Int("chunks skipped", skipped),
	)
	return mh, nil
}

// Installed returns the manifest hash currently published for an artifact in a store
func Installed(fs afero.Fs, store Store, artifactName string) (string, error) {
	if err := ValidateArtifactName(artifactName); err != nil {
		return "", err
	}
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return "", status.ErrNotSupported.Wrap(fmt.Errorf("filesystem %s does not support symbolic links", fs.Name()))
	}
	pointer := layout.Join(store.Path, store.layout().ArtifactPath(artifactName))
	target, err := reader.ReadlinkIfPossible(pointer)
	if err != nil {
		if os.IsNotExist(err) {
			return "", status.ErrNotFound.Wrap(fmt.Errorf("artifact %q is not installed in %q", artifactName, store.Path))
		}
		return "", status.ErrIO.Wrap(fmt.Errorf("reading pointer %q: %w", pointer, err))
	}
	return filepath.Base(target), nil
}

// ValidateArtifactName checks that a name may designate an artifact in a registry and in a store
func ValidateArtifactName(name string) error {
	if err := registry.ValidateName(name); err != nil {
		return err
	}
	switch {
	case strings.ContainsAny(name, `/\`):
		return status.ErrMalformed.Wrap(fmt.Errorf("artifact name %q contains a path separator", name))
	case name == "." || name == "..":
		return status.ErrMalformed.Wrap(fmt.Errorf("invalid artifact name %q", name))
	case strings.HasPrefix(name, TempPrefix):
		return status.ErrMalformed.Wrap(fmt.Errorf("artifact name %q uses the reserved prefix %q", name, TempPrefix))
	}
	return nil
}

func fetchManifest(ctx context.Context, fs afero.Fs, res *resolver.Resolver, l layout.Layout, mh string, s Settings) (*manifest.Manifest, error) {
	rel := l.ManifestPath(mh)
	p, err := res.Resolve(ctx, rel)
	if err != nil {
		return nil, err
	}
	doc, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, status.ErrIO.Wrap(fmt.Errorf("reading manifest %q: %w", mh, err))
	}
	m, err := manifest.Decode(doc)
	if err != nil {
		_ = res.Evict(rel)
		return nil, errors.Wrapf(err, "manifest %q", mh)
	}
	if actual := m.Hash(s.hasher); actual != mh {
		_ = res.Evict(rel)
		s.m.IntegrityFailure()
		return nil, status.ErrIntegrity.Wrap(fmt.Errorf("manifest %q hashes to %q", mh, actual))
	}
	return m, nil
}

// installChunks writes to the store every chunk referenced by the manifest and missing from the store
func installChunks(ctx context.Context, fs afero.Fs, res *resolver.Resolver, storePath string, l layout.Layout, m *manifest.Manifest, s Settings) (fetched, skipped int, err error) {
	executable := make(map[string]bool, len(m.Files))
	for _, e := range m.Files {
		executable[e.Hash] = executable[e.Hash] || e.Executable
	}

	for _, id := range m.Chunks() {
		if err = ctx.Err(); err != nil {
			return fetched, skipped, err
		}
		perm := os.FileMode(0644)
		if executable[id] {
			perm = 0755
		}
		dst := layout.Join(storePath, l.ChunkPath(id))

		fi, statErr := fs.Stat(dst)
		switch {
		case statErr == nil:
			skipped++
			s.m.ChunkSkipped()
			if executable[id] && fi.Mode().Perm()&0o111 == 0 {
				if err = fs.Chmod(dst, perm); err != nil {
					return fetched, skipped, status.ErrIO.Wrap(fmt.Errorf("setting mode on chunk %q: %w", id, err))
				}
			}
			continue
		case !os.IsNotExist(statErr):
			return fetched, skipped, status.ErrIO.Wrap(fmt.Errorf("checking chunk %q: %w", id, statErr))
		}

		data, err := fetchChunk(ctx, fs, res, l, id, s)
		if err != nil {
			return fetched, skipped, err
		}
		if err = fsutil.WriteFileAtomic(fs, dst, data, perm); err != nil {
			return fetched, skipped, status.ErrIO.Wrap(fmt.Errorf("writing chunk %q: %w", id, err))
		}
		fetched++
		s.m.ChunkFetched()
		s.l.Debug("chunk installed", zap.String("hash", id), zap.Int("size", len(data)))
	}
	return fetched, skipped, nil
}

// fetchChunk resolves, decompresses and verifies a chunk. A corrupted cached copy is evicted.
func fetchChunk(ctx context.Context, fs afero.Fs, res *resolver.Resolver, l layout.Layout, id string, s Settings) ([]byte, error) {
	rel := l.ChunkPath(id)
	p, err := res.Resolve(ctx, rel)
	if err != nil {
		return nil, err
	}
	compressed, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, status.ErrIO.Wrap(fmt.Errorf("reading chunk %q: %w", id, err))
	}

	data, err := compress.Decompress(compressed)
	if err == nil {
		if actual := s.hasher.Sum(data); actual != id {
			err = fmt.Errorf("content hashes to %q", actual)
		}
	}
	if err != nil {
		s.m.IntegrityFailure()
		if evictErr := res.Evict(rel); evictErr != nil {
			s.l.Warn("could not evict corrupted chunk from cache", zap.String("hash", id), zap.Error(evictErr))
		}
		return nil, status.ErrIntegrity.Wrap(fmt.Errorf("chunk %q: %w", id, err))
	}
	return data, nil
}

// materializeTree creates a symbolic link to its chunk for each entry of the manifest.
// Existing entries are left untouched.
func materializeTree(fs symlinkFs, treeDir, storePath string, l layout.Layout, m *manifest.Manifest) error {
	if err := fs.MkdirAll(treeDir, 0755); err != nil {
		return status.ErrIO.Wrap(fmt.Errorf("creating %q: %w", treeDir, err))
	}
	for _, e := range m.Files {
		link := filepath.Join(treeDir, filepath.FromSlash(e.RelPath()))
		exists, err := fsutil.Exists(fs, link)
		if err != nil {
			return status.ErrIO.Wrap(fmt.Errorf("checking %q: %w", link, err))
		}
		if exists {
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(link), 0755); err != nil {
			return status.ErrIO.Wrap(fmt.Errorf("creating %q: %w", filepath.Dir(link), err))
		}
		chunk, err := absPath(layout.Join(storePath, l.ChunkPath(e.Hash)))
		if err != nil {
			return err
		}
		if err := fs.SymlinkIfPossible(chunk, link); err != nil {
			return status.ErrIO.Wrap(fmt.Errorf("linking %q: %w", e.Path, err))
		}
	}
	return nil
}

// publish atomically points artifactsDir/name to target
func publish(fs symlinkFs, artifactsDir, name, target string) error {
	if err := fs.MkdirAll(artifactsDir, 0755); err != nil {
		return status.ErrIO.Wrap(fmt.Errorf("creating %q: %w", artifactsDir, err))
	}
	var tmp string
	for attempt := 0; ; attempt++ {
		var err error
		tmp, err = tempPointer(fs, artifactsDir)
		if err != nil {
			return err
		}
		err = fs.SymlinkIfPossible(target, tmp)
		if err == nil {
			break
		}
		// a concurrent install took the name since tempPointer found it free
		if !os.IsExist(err) || attempt >= maxTempNames {
			return status.ErrIO.Wrap(fmt.Errorf("creating pointer %q: %w", tmp, err))
		}
	}
	pointer := filepath.Join(artifactsDir, name)
	if err := fs.Rename(tmp, pointer); err != nil {
		_ = fs.Remove(tmp)
		return status.ErrIO.Wrap(fmt.Errorf("publishing %q: %w", pointer, err))
	}
	return nil
}

// tempPointer returns a free temporary name in dir.
//
// Names .tmp_0 to .tmp_254 are tried in turn. When all are taken, typically left over
// by interrupted installs, the oldest one is removed and its name reused.
func tempPointer(fs symlinkFs, dir string) (string, error) {
	var (
		oldest     string
		oldestTime time.Time
	)
	for i := 0; i < maxTempNames; i++ {
		candidate := filepath.Join(dir, TempPrefix+strconv.Itoa(i))
		fi, _, err := fs.LstatIfPossible(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", status.ErrIO.Wrap(fmt.Errorf("checking %q: %w", candidate, err))
		}
		if oldest == "" || fi.ModTime().Before(oldestTime) {
			oldest, oldestTime = candidate, fi.ModTime()
		}
	}

	if err := fs.RemoveAll(oldest); err != nil {
		return "", status.ErrIO.Wrap(fmt.Errorf("evicting stale pointer %q: %w", oldest, err))
	}
	return oldest, nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", status.ErrIO.Wrap(fmt.Errorf("resolving %q: %w", p, err))
	}
	return abs, nil
}
