// Copyright © 2018 One Concern

// Package source defines where repository content comes from.
//
// A Source delivers the bytes of a repository object, designated by its slash-separated
// path relative to the repository root (e.g. "chunks/<id>"), or fails.
// Definite absence is reported with status.ErrNotFound, from the status subpackage.
//
// Implementations:
//   - localfs: a local directory
//   - https: an HTTP(S) server
//   - sthree: an S3 bucket
//   - gcs: a Google Cloud Storage bucket
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/oneconcern/castor/pkg/source/gcs"
	"github.com/oneconcern/castor/pkg/source/https"
	"github.com/oneconcern/castor/pkg/source/localfs"
	"github.com/oneconcern/castor/pkg/source/sthree"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Source knows how to deliver the bytes of a repository object
type Source interface {
	String() string
	Fetch(ctx context.Context, rel string, w io.Writer) error
}

var (
	_ Source = &localfs.Source{}
	_ Source = &https.Source{}
	_ Source = &sthree.Source{}
	_ Source = &gcs.Source{}
)

// Option configures how Parse builds sources
type Option func(*options)

type options struct {
	l          *zap.Logger
	fs         afero.Fs
	httpOpts   []https.Option
	awsConfig  *aws.Config
	gcsOptions []option.ClientOption
}

// Logger for sources which report retries
func Logger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}

// Fs sets the filesystem of local sources
func Fs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// HTTPOptions configures HTTP(S) sources
func HTTPOptions(opts ...https.Option) Option {
	return func(o *options) {
		o.httpOpts = append(o.httpOpts, opts...)
	}
}

// AWSConfig configures S3 sources
func AWSConfig(cfg *aws.Config) Option {
	return func(o *options) {
		o.awsConfig = cfg
	}
}

// GCSOptions configures GCS sources
func GCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) {
		o.gcsOptions = append(o.gcsOptions, opts...)
	}
}

// Parse builds a source from its specification:
//   - https://host/path or http://host/path
//   - s3://bucket/prefix
//   - gs://bucket/prefix
//   - file:///some/dir or a plain directory path
func Parse(ctx context.Context, spec string, opts ...Option) (Source, error) {
	o := options{l: zap.NewNop()}
	for _, apply := range opts {
		apply(&o)
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty source specification")
	}

	scheme, rest, hasScheme := strings.Cut(spec, "://")
	if !hasScheme {
		return localfs.New(o.fs, spec), nil
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		httpOpts := append([]https.Option{https.Logger(o.l)}, o.httpOpts...)
		return https.New(spec, httpOpts...)

	case "s3":
		bucket, prefix := splitBucket(rest)
		var s3Opts []sthree.Option
		if o.awsConfig != nil {
			s3Opts = append(s3Opts, sthree.AWSConfig(o.awsConfig))
		}
		return sthree.New(bucket, prefix, s3Opts...)

	case "gs":
		bucket, prefix := splitBucket(rest)
		return gcs.New(ctx, bucket, prefix, o.gcsOptions...)

	case "file":
		u, err := url.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid source %q: %w", spec, err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return nil, fmt.Errorf("invalid source %q: remote file hosts are not supported", spec)
		}
		if u.Path == "" {
			return nil, fmt.Errorf("invalid source %q: missing path", spec)
		}
		return localfs.New(o.fs, u.Path), nil

	default:
		return nil, fmt.Errorf("unsupported source scheme %q in %q", scheme, spec)
	}
}

// ParseAll builds sources from their specifications, preserving order
func ParseAll(ctx context.Context, specs []string, opts ...Option) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		s, err := Parse(ctx, spec, opts...)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}

func splitBucket(rest string) (string, string) {
	bucket, prefix, _ := strings.Cut(rest, "/")
	return bucket, prefix
}
