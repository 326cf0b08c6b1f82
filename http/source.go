// Package http provides a folio.ByteSource backed by HTTP range requests.
//
// A Source lets an archive served over HTTP be indexed and read without
// downloading it: opening learns the size, locating the Central Directory
// reads the tail, and every entry read is a single bounded range request.
package http //nolint:revive // mirrors net/http for clarity at call sites

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrSourceChanged is returned by reads made with conditional headers
	// when the server reports that the content no longer matches the
	// version observed at open time.
	ErrSourceChanged = errors.New("http: remote content changed")

	// ErrRangeMismatch is returned when a partial response covers a
	// different byte range than the one requested.
	ErrRangeMismatch = errors.New("http: response range does not match request")
)

// Source implements random access reads via HTTP range requests.
// It satisfies folio.ByteSource (io.ReaderAt plus Size).
//
// A Source is safe for concurrent use.
type Source struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	conditional  bool
	size         int64
	etag         string
	lastModified string
	id           digest.Digest
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithConditionalHeaders pins reads to the version observed at open time
// using If-Match or If-Unmodified-Since. A 412 response is reported as
// ErrSourceChanged.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.conditional = true
	}
}

// NewSource creates a Source backed by HTTP range requests.
// It queries the remote to determine the content size and validators.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.discover(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	s.id = s.identity()
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// URL returns the URL the Source reads from.
func (s *Source) URL() string {
	return s.url
}

// ID returns a content-addressed identifier for the remote version,
// derived from the URL, size, and validators observed at open time.
func (s *Source) ID() digest.Digest {
	return s.id
}

// ReadAt reads len(p) bytes at off with a single range request.
// It implements io.ReaderAt: reads that extend past the end return the
// available bytes together with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt bound to ctx.
func (s *Source) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), s.size-off)
	end := off + want - 1
	resp, err := s.get(ctx, fmt.Sprintf("bytes=%d-%d", off, end), s.conditional)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, ErrSourceChanged
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("range request failed: %s", resp.Status)
	}

	got, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, err
	}
	if got.start != off || got.end != end {
		return 0, fmt.Errorf("%w: requested %d-%d, got %d-%d", ErrRangeMismatch, off, end, got.start, got.end)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// discover records the content size from a one-byte range request, preferring
// validators from a HEAD response when the server provides them.
func (s *Source) discover(ctx context.Context) error {
	headSize := int64(-1)
	if resp, err := s.do(ctx, nethttp.MethodHead, "", false); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
		}
		drain(resp)
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	resp, err := s.get(ctx, "bytes=0-0", false)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Zero-length content cannot satisfy any range.
		if headSize == 0 {
			s.size = 0
			return nil
		}
		return fmt.Errorf("size request failed: %s", resp.Status)
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("size request failed: %s", resp.Status)
	}

	rng, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	size := rng.size
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	s.size = size
	return nil
}

func (s *Source) identity() digest.Digest {
	var b strings.Builder
	b.WriteString(s.url)
	b.WriteString("\x00")
	b.WriteString(strconv.FormatInt(s.size, 10))
	if s.etag != "" {
		b.WriteString("\x00etag:")
		b.WriteString(s.etag)
	} else if s.lastModified != "" {
		b.WriteString("\x00mod:")
		b.WriteString(s.lastModified)
	}
	return digest.FromString(b.String())
}

func (s *Source) get(ctx context.Context, rng string, conditional bool) (*nethttp.Response, error) {
	return s.do(ctx, nethttp.MethodGet, rng, conditional)
}

func (s *Source) do(ctx context.Context, method, rng string, conditional bool) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		// Ranges must address the stored bytes, not a transfer encoding.
		req.Header.Set("Accept-Encoding", "identity")
	}
	if rng != "" {
		req.Header.Set("Range", rng)
	}
	if conditional {
		switch {
		case s.etag != "":
			req.Header.Set("If-Match", s.etag)
		case s.lastModified != "":
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return s.client.Do(req)
}

// drain discards and closes the body so the connection can be reused.
func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
	_ = resp.Body.Close()
}

// contentRange is a parsed "bytes start-end/size" header value.
type contentRange struct {
	start, end, size int64
}

// parseContentRange parses a Content-Range value of the form
// "bytes start-end/size". The complete length must be known.
func parseContentRange(value string) (contentRange, error) {
	invalid := fmt.Errorf("invalid Content-Range %q", value)

	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return contentRange{}, invalid
	}
	span, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return contentRange{}, invalid
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return contentRange{}, invalid
	}

	var (
		r    contentRange
		errs [3]error
	)
	r.start, errs[0] = strconv.ParseInt(first, 10, 64)
	r.end, errs[1] = strconv.ParseInt(last, 10, 64)
	r.size, errs[2] = strconv.ParseInt(total, 10, 64)
	if errors.Join(errs[:]...) != nil || r.start < 0 || r.end < r.start || r.size <= r.end {
		return contentRange{}, invalid
	}
	return r, nil
}
