// Copyright © 2018 One Concern

// Package gcs serves repository content from a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/oneconcern/castor/pkg/source/status"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Source fetches objects from a bucket, below an object name prefix
type Source struct {
	client *gcsStorage.Client
	bucket string
	prefix string
}

// New GCS source, with a read-only client built from the given client options
func New(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Source, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs source: empty bucket name")
	}
	opts = append([]option.ClientOption{option.WithScopes(gcsStorage.ScopeReadOnly)}, opts...)
	client, err := gcsStorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs source: creating client: %w", err)
	}
	return &Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (g *Source) String() string {
	if g.prefix == "" {
		return "gs://" + g.bucket
	}
	return "gs://" + g.bucket + "/" + g.prefix
}

// ObjectName designated by a slash-separated relative path
func (g *Source) ObjectName(rel string) string {
	return path.Join(g.prefix, strings.TrimPrefix(rel, "/"))
}

// Fetch copies the object at the relative path rel into w
func (g *Source) Fetch(ctx context.Context, rel string, w io.Writer) error {
	reader, err := g.client.Bucket(g.bucket).Object(g.ObjectName(rel)).NewReader(ctx)
	if err != nil {
		return toSourceError(fmt.Errorf("%s: GET %q: %w", g, rel, err), err)
	}
	defer reader.Close()

	if _, err = io.Copy(w, reader); err != nil {
		return fmt.Errorf("%s: reading %q: %w", g, rel, err)
	}
	return nil
}

// Close the underlying client
func (g *Source) Close() error {
	return g.client.Close()
}

// toSourceError qualifies GCS API errors with the sentinels of the status package
func toSourceError(annotated, err error) error {
	if errors.Is(err, gcsStorage.ErrObjectNotExist) || errors.Is(err, gcsStorage.ErrBucketNotExist) {
		return status.ErrNotFound.Wrap(annotated)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return status.ErrNotFound.Wrap(annotated)
		case 401, 403:
			return status.ErrForbidden.Wrap(annotated)
		default:
			return status.ErrSourceAPI.Wrap(annotated)
		}
	}
	return annotated
}
