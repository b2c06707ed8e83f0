// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/oneconcern/castor/internal/fsutil"
	"github.com/oneconcern/castor/pkg/compress"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/manifest"
	"github.com/oneconcern/castor/pkg/registry"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// BuildStats summarizes a build
type BuildStats struct {
	Files           int
	Chunks          int
	RawBytes        int64
	CompressedBytes int64
}

// Build publishes the regular files found below inputDir as an artifact of the repository at repoDir.
//
// Every distinct file content is written once as a compressed chunk named after the hash of its raw bytes.
// The manifest is written next, then the registry is updated to point artifactName to the manifest hash,
// which is returned.
//
// Directories, symbolic links and other non-regular files are not part of the artifact.
// On failure, chunks already written are left in place.
func Build(ctx context.Context, inputDir, repoDir, artifactName string, opts ...Option) (string, error) {
	mh, _, err := BuildWithStats(ctx, inputDir, repoDir, artifactName, opts...)
	return mh, err
}

// BuildWithStats works like Build and reports some statistics about the build
func BuildWithStats(ctx context.Context, inputDir, repoDir, artifactName string, opts ...Option) (string, BuildStats, error) {
	s := newSettings(opts)
	var stats BuildStats

	if err := registry.ValidateName(artifactName); err != nil {
		return "", stats, err
	}
	if err := s.layout.Validate(); err != nil {
		return "", stats, err
	}
	if ok, err := afero.DirExists(s.fs, repoDir); err != nil || !ok {
		return "", stats, status.ErrNotFound.Wrap(fmt.Errorf("repository %q is not a directory", repoDir))
	}

	files, err := listRegularFiles(s.fs, inputDir)
	if err != nil {
		return "", stats, err
	}

	logger := s.l.With(zap.String("artifact", artifactName), zap.String("repo", repoDir))
	written := make(map[string]struct{}, len(files))
	entries := make([]manifest.Entry, 0, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return "", stats, err
		}

		data, err := afero.ReadFile(s.fs, file.path)
		if err != nil {
			return "", stats, status.ErrIO.Wrap(fmt.Errorf("reading %q: %w", file.path, err))
		}
		id := s.hasher.Sum(data)
		entries = append(entries, manifest.Entry{
			Path:       file.rel,
			Hash:       id,
			Executable: file.mode&0o111 != 0,
		})
		stats.Files++
		stats.RawBytes += int64(len(data))

		if _, done := written[id]; done {
			s.m.ChunkDeduplicated()
			logger.Debug("duplicate content", zap.String("path", file.rel), zap.String("hash", id))
			continue
		}

		compressed, err := compress.Compress(data, s.codec)
		if err != nil {
			return "", stats, status.ErrIO.Wrap(fmt.Errorf("compressing %q: %w", file.path, err))
		}
		chunkPath := layout.Join(repoDir, s.layout.ChunkPath(id))
		if err := fsutil.WriteFileAtomic(s.fs, chunkPath, compressed, 0644); err != nil {
			return "", stats, status.ErrIO.Wrap(fmt.Errorf("writing chunk for %q: %w", file.path, err))
		}
		written[id] = struct{}{}
		stats.Chunks++
		stats.CompressedBytes += int64(len(compressed))
		s.m.ChunkWritten(len(data), len(compressed))

		logger.Debug("chunk written",
			zap.String("path", file.rel),
			zap.String("hash", id),
			zap.Int("size", len(data)),
			zap.Int("compressed", len(compressed)),
		)
	}

	m := manifest.New(entries)
	mh := m.Hash(s.hasher)
	doc, err := manifest.Encode(m)
	if err != nil {
		return "", stats, err
	}
	manifestPath := layout.Join(repoDir, s.layout.ManifestPath(mh))
	if err := fsutil.WriteFileAtomic(s.fs, manifestPath, doc, 0644); err != nil {
		return "", stats, status.ErrIO.Wrap(fmt.Errorf("writing manifest %q: %w", mh, err))
	}

	if err := registry.New(s.fs, layout.Join(repoDir, s.layout.RegistryPath())).Put(artifactName, mh); err != nil {
		return "", stats, err
	}
	s.m.Built()

	logger.Info("artifact built",
		zap.String("hash", mh),
		zap.Int("files", stats.Files),
		zap.Int("chunks", stats.Chunks),
		zap.String("size", units.HumanSize(float64(stats.RawBytes))),
		zap.String("compressed", units.HumanSize(float64(stats.CompressedBytes))),
	)
	return mh, stats, nil
}

type inputFile struct {
	path string
	rel  string
	mode os.FileMode
}

// listRegularFiles walks root in lexical order.
// Symbolic links below root are not followed, but root itself may be a link to a directory.
func listRegularFiles(fs afero.Fs, root string) ([]inputFile, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.Wrap(fmt.Errorf("input directory %q", root))
		}
		return nil, status.ErrIO.Wrap(fmt.Errorf("input directory %q: %w", root, err))
	}
	if !fi.IsDir() {
		return nil, status.ErrIO.Wrap(fmt.Errorf("input %q is not a directory", root))
	}
	walkRoot, err := resolveRoot(fs, root)
	if err != nil {
		return nil, status.ErrIO.Wrap(fmt.Errorf("input directory %q: %w", root, err))
	}

	var files []inputFile
	err = afero.Walk(fs, walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(walkRoot, p)
		if err != nil {
			return err
		}
		files = append(files, inputFile{
			path: p,
			rel:  filepath.ToSlash(rel),
			mode: info.Mode().Perm(),
		})
		return nil
	})
	if err != nil {
		return nil, status.ErrIO.Wrap(fmt.Errorf("walking %q: %w", root, err))
	}
	return files, nil
}

// maxLinkHops bounds symbolic link resolution on the input root
const maxLinkHops = 40

// resolveRoot follows the symbolic links designating root itself: afero.Walk does not descend into a linked root.
func resolveRoot(fs afero.Fs, root string) (string, error) {
	lstater, ok := fs.(afero.Lstater)
	if !ok {
		return root, nil
	}
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return root, nil
	}
	for i := 0; i < maxLinkHops; i++ {
		fi, _, err := lstater.LstatIfPossible(root)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return root, nil
		}
		target, err := reader.ReadlinkIfPossible(root)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(root), target)
		}
		root = target
	}
	return "", fmt.Errorf("too many levels of symbolic links")
}
