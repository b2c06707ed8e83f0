// Package https serves repository content from an HTTP(S) server.
//
// Objects are retrieved with GET <base>/<relative path>. Transient failures
// (connection errors, 429 and 5xx responses) are retried with exponential backoff.
package https

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/oneconcern/castor/pkg/source/status"
	"go.uber.org/zap"
)

const (
	// DefaultRetries is the default number of retries after a transient failure
	DefaultRetries = 3

	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
)

// Option configures the HTTP source
type Option func(*Source)

// Logger for retry attempts
func Logger(l *zap.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.l = l
		}
	}
}

// Retries sets the maximum number of retries after a transient failure
func Retries(n int) Option {
	return func(s *Source) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// RetryWait sets the bounds of the exponential backoff between retries
func RetryWait(min, max time.Duration) Option {
	return func(s *Source) {
		s.waitMin, s.waitMax = min, max
	}
}

// MaxSize limits the size of fetched objects, in bytes. Zero means no limit.
func MaxSize(n int64) Option {
	return func(s *Source) {
		s.maxSize = n
	}
}

// MaxSizeString limits the size of fetched objects, expressed like "512MB" or "2GiB"
func MaxSizeString(size string) (Option, error) {
	if size == "" {
		return MaxSize(0), nil
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return nil, fmt.Errorf("invalid max size %q: %w", size, err)
	}
	return MaxSize(n), nil
}

// HTTPClient sets the underlying HTTP client, e.g. for custom TLS settings
func HTTPClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// Source fetches objects below a base URL
type Source struct {
	base       *url.URL
	l          *zap.Logger
	retries    int
	waitMin    time.Duration
	waitMax    time.Duration
	maxSize    int64
	httpClient *http.Client
	client     *retryablehttp.Client
}

// New source for a base URL, which must use the http or https scheme
func New(base string, opts ...Option) (*Source, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", base, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("invalid source URL %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid source URL %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""

	s := &Source{
		base:       u,
		l:          zap.NewNop(),
		retries:    DefaultRetries,
		waitMin:    defaultRetryWaitMin,
		waitMax:    defaultRetryWaitMax,
		httpClient: http.DefaultClient,
	}
	for _, apply := range opts {
		apply(s)
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = s.httpClient
	client.RetryMax = s.retries
	client.RetryWaitMin = s.waitMin
	client.RetryWaitMax = s.waitMax
	client.Logger = leveledLogger{s: s.l.Sugar().With(zap.String("source", u.Redacted()))}
	s.client = client

	return s, nil
}

func (s *Source) String() string {
	return s.base.Redacted()
}

// URL of the object designated by a slash-separated relative path
func (s *Source) URL(rel string) string {
	u := *s.base
	u.Path = s.base.Path + "/" + strings.TrimPrefix(rel, "/")
	return u.String()
}

// Fetch copies the object at the relative path rel into w.
//
// A 404 response is reported as status.ErrNotFound. Any other non-2xx response is an error.
func (s *Source) Fetch(ctx context.Context, rel string, w io.Writer) error {
	target := s.URL(rel)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%s: building request for %q: %w", s, rel, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: GET %q: %w", s, rel, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return status.ErrNotFound.Wrap(fmt.Errorf("%s: %q", s, rel))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return status.ErrForbidden.Wrap(fmt.Errorf("%s: GET %q: %s", s, rel, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return status.ErrSourceAPI.Wrap(fmt.Errorf("%s: GET %q: %s", s, rel, resp.Status))
	}

	if s.maxSize > 0 && resp.ContentLength > s.maxSize {
		return s.tooBig(rel)
	}

	var body io.Reader = resp.Body
	if s.maxSize > 0 {
		body = io.LimitReader(resp.Body, s.maxSize+1)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return fmt.Errorf("%s: reading %q: %w", s, rel, err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return s.tooBig(rel)
	}
	return nil
}

func (s *Source) tooBig(rel string) error {
	return status.ErrTooBig.Wrap(fmt.Errorf("%s: %q exceeds %s", s, rel, units.BytesSize(float64(s.maxSize))))
}

// leveledLogger routes retryablehttp messages to zap
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
