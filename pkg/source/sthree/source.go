// Package sthree serves repository content from an S3 bucket.
package sthree

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/oneconcern/castor/pkg/source/status"
)

// Option configures the S3 source
type Option func(*Source)

// AWSConfig sets the AWS configuration used to build the client session
func AWSConfig(cfg *aws.Config) Option {
	return func(s *Source) {
		s.awsConfig = cfg
	}
}

// Client sets the S3 API client, e.g. a fake for tests
func Client(client s3iface.S3API) Option {
	return func(s *Source) {
		s.s3 = client
	}
}

// Source fetches objects from a bucket, below a key prefix
type Source struct {
	bucket    string
	prefix    string
	awsConfig *aws.Config
	s3        s3iface.S3API
}

// New S3 source for a bucket and an optional key prefix
func New(bucket, prefix string, opts ...Option) (*Source, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 source: empty bucket name")
	}
	s := &Source{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.s3 == nil {
		sess, err := session.NewSession(s.awsConfig)
		if err != nil {
			return nil, fmt.Errorf("s3 source: creating AWS session: %w", err)
		}
		s.s3 = s3.New(sess)
	}
	return s, nil
}

func (s *Source) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

// Key of the object designated by a slash-separated relative path
func (s *Source) Key(rel string) string {
	return path.Join(s.prefix, strings.TrimPrefix(rel, "/"))
}

// Fetch copies the object at the relative path rel into w
func (s *Source) Fetch(ctx context.Context, rel string, w io.Writer) error {
	obj, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(rel)),
	})
	if err != nil {
		return toSourceError(fmt.Errorf("%s: GET %q: %w", s, rel, err), err)
	}
	defer obj.Body.Close()

	if _, err = io.Copy(w, obj.Body); err != nil {
		return fmt.Errorf("%s: reading %q: %w", s, rel, err)
	}
	return nil
}

// toSourceError qualifies S3 API errors with the sentinels of the status package
func toSourceError(annotated, err error) error {
	if rerr, ok := err.(awserr.RequestFailure); ok {
		switch rerr.StatusCode() {
		case 404:
			return status.ErrNotFound.Wrap(annotated)
		case 401, 403:
			return status.ErrForbidden.Wrap(annotated)
		default:
			return status.ErrSourceAPI.Wrap(annotated)
		}
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return status.ErrNotFound.Wrap(annotated)
		}
	}
	return annotated
}
