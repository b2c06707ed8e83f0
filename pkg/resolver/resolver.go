// Copyright © 2018 One Concern

// Package resolver turns repository-relative paths into local file paths.
//
// Content is looked up in a local cache first, then fetched from an ordered list of sources:
// the first source to deliver wins. Fetched content is staged in the cache directory and renamed
// into place only when complete, so the presence of a cache entry implies it is complete.
package resolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/oneconcern/castor/internal/fsutil"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/oneconcern/castor/pkg/errors"
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/metrics"
	"github.com/oneconcern/castor/pkg/source"
	sourcestatus "github.com/oneconcern/castor/pkg/source/status"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option configures a resolver
type Option func(*Resolver)

// Logger for the resolver
func Logger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.l = l
		}
	}
}

// Metrics collectors for the resolver
func Metrics(m *metrics.M) Option {
	return func(r *Resolver) {
		r.m = m
	}
}

// Resolver maps repository-relative paths to files in a local cache
type Resolver struct {
	fs      afero.Fs
	root    string
	sources []source.Source
	l       *zap.Logger
	m       *metrics.M
}

// New resolver caching content under cacheRoot on cacheFs, and fetching from sources in order
func New(cacheFs afero.Fs, cacheRoot string, sources []source.Source, opts ...Option) *Resolver {
	r := &Resolver{
		fs:      cacheFs,
		root:    cacheRoot,
		sources: sources,
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// Sources consulted by the resolver, in order
func (r *Resolver) Sources() []source.Source {
	return r.sources
}

// CachePath is the location in the cache of a repository-relative path
func (r *Resolver) CachePath(rel string) string {
	return layout.Join(r.root, rel)
}

// Resolve a repository-relative path to a local file.
//
// A cached copy is returned without further checks. Otherwise every source is tried in order
// until one delivers the content. When all fail, the error is of kind status.ErrNotFound if every
// source reported the content as absent, status.ErrIO otherwise. SourceErrors enumerates the
// failure of each source.
func (r *Resolver) Resolve(ctx context.Context, rel string) (string, error) {
	if err := validate(rel); err != nil {
		return "", err
	}
	target := r.CachePath(rel)

	cached, err := r.cached(target)
	if err != nil {
		return "", err
	}
	if cached {
		r.l.Debug("cache hit", zap.String("path", rel))
		r.m.CacheHit()
		return target, nil
	}

	if err := r.fetch(ctx, rel, target); err != nil {
		return "", err
	}
	return target, nil
}

// ResolveFresh resolves a repository-relative path to a local file, always fetching from the sources.
//
// It serves mutable content such as the registry. When every source fails but a cached copy exists,
// the cached copy is returned.
func (r *Resolver) ResolveFresh(ctx context.Context, rel string) (string, error) {
	if err := validate(rel); err != nil {
		return "", err
	}
	target := r.CachePath(rel)

	fetchErr := r.fetch(ctx, rel, target)
	if fetchErr == nil {
		return target, nil
	}

	cached, err := r.cached(target)
	if err != nil || !cached {
		return "", fetchErr
	}
	r.l.Warn("all sources failed, using cached copy",
		zap.String("path", rel),
		zap.Error(fetchErr),
	)
	r.m.CacheHit()
	return target, nil
}

// Evict removes the cached copy of a repository-relative path, if any
func (r *Resolver) Evict(rel string) error {
	if err := validate(rel); err != nil {
		return err
	}
	target := r.CachePath(rel)
	if err := r.fs.Remove(target); err != nil && !os.IsNotExist(err) {
		return status.ErrIO.Wrap(fmt.Errorf("evicting %q from cache: %w", target, err))
	}
	r.l.Debug("evicted from cache", zap.String("path", rel))
	return nil
}

func (r *Resolver) cached(target string) (bool, error) {
	fi, err := r.fs.Stat(target)
	switch {
	case err == nil:
		if fi.IsDir() {
			return false, status.ErrIO.Wrap(fmt.Errorf("cache entry %q is a directory", target))
		}
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, status.ErrIO.Wrap(fmt.Errorf("checking cache entry %q: %w", target, err))
	}
}

func (r *Resolver) fetch(ctx context.Context, rel, target string) error {
	var (
		errs        error
		allNotFound = true
	)

	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return status.ErrIO.Wrap(fmt.Errorf("resolving %q: %w", rel, err))
		}

		r.l.Debug("fetching", zap.String("path", rel), zap.Stringer("source", src))
		err := fsutil.WriteAtomic(r.fs, target, 0644, func(w io.Writer) error {
			return src.Fetch(ctx, rel, w)
		})
		if err == nil {
			r.m.Resolved(src.String(), metrics.OutcomeSuccess)
			r.l.Debug("fetched", zap.String("path", rel), zap.Stringer("source", src))
			return nil
		}

		outcome := metrics.OutcomeError
		if errors.Is(err, sourcestatus.ErrNotFound) {
			outcome = metrics.OutcomeNotFound
		} else {
			allNotFound = false
		}
		r.m.Resolved(src.String(), outcome)
		r.l.Info("source failed, trying next",
			zap.String("path", rel),
			zap.Stringer("source", src),
			zap.Error(err),
		)
		errs = multierr.Append(errs, &SourceError{Source: src.String(), Err: err})
	}

	kind := status.ErrIO
	if allNotFound {
		kind = status.ErrNotFound
	}
	if len(r.sources) == 0 {
		return kind.Wrap(&resolveError{rel: rel, errs: fmt.Errorf("no source configured")})
	}
	return kind.Wrap(&resolveError{rel: rel, errs: errs})
}

// SourceError reports the failure of a single source
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return "source " + e.Source + ": " + e.Err.Error()
}

// Unwrap the error reported by the source
func (e *SourceError) Unwrap() error {
	return e.Err
}

type resolveError struct {
	rel  string
	errs error
}

func (e *resolveError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.rel, e.errs)
}

func (e *resolveError) Unwrap() error {
	return e.errs
}

// SourceErrors enumerates the failure of every source consulted by a failed resolution,
// in source order.
func SourceErrors(err error) []error {
	var re *resolveError
	if !errors.As(err, &re) {
		return nil
	}
	var out []error
	for _, e := range multierr.Errors(re.errs) {
		var se *SourceError
		if errors.As(e, &se) {
			out = append(out, se)
		}
	}
	return out
}

func validate(rel string) error {
	switch {
	case rel == "":
		return status.ErrMalformed.Wrap(fmt.Errorf("empty repository path"))
	case strings.HasPrefix(rel, "/"):
		return status.ErrMalformed.Wrap(fmt.Errorf("repository path %q is absolute", rel))
	case path.Clean(rel) != rel || rel == "." || strings.HasPrefix(rel, "../") || rel == "..":
		return status.ErrMalformed.Wrap(fmt.Errorf("repository path %q is not a clean relative path", rel))
	}
	// staged names belong to fetches in progress
	for _, elem := range strings.Split(rel, "/") {
		if fsutil.IsStaged(elem) {
			return status.ErrMalformed.Wrap(fmt.Errorf("repository path %q designates a staged file", rel))
		}
	}
	return nil
}
