package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/folio"
	folhttp "github.com/meigma/folio/http"
	"github.com/meigma/folio/internal/testutil"
)

// contentServer serves data with range support and counts GET requests.
type contentServer struct {
	data []byte
	etag atomic.Value
	gets atomic.Int64
}

func newContentServer(t *testing.T, data []byte, etag string) (*contentServer, *httptest.Server) {
	t.Helper()
	cs := &contentServer{data: data}
	cs.etag.Store(etag)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodGet {
			cs.gets.Add(1)
		}
		if tag := cs.etag.Load().(string); tag != "" {
			w.Header().Set("ETag", tag)
		}
		nethttp.ServeContent(w, r, "book.cbz", time.Time{}, bytes.NewReader(cs.data))
	}))
	t.Cleanup(server.Close)
	return cs, server
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	_, server := newContentServer(t, data, "")

	src, err := folhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Equal(t, server.URL, src.URL())

	tests := []struct {
		name    string
		bufSize int
		offset  int64
		wantN   int
		wantErr error
		want    string
	}{
		{name: "read from middle", bufSize: 5, offset: 6, wantN: 5, want: "world"},
		{name: "read from start", bufSize: 5, offset: 0, wantN: 5, want: "hello"},
		{name: "read past end returns EOF", bufSize: 10, offset: int64(len(data) - 3), wantN: 3, wantErr: io.EOF, want: "rld"},
		{name: "offset at end", bufSize: 4, offset: int64(len(data)), wantN: 0, wantErr: io.EOF},
		{name: "empty buffer", bufSize: 0, offset: 3, wantN: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, tt.bufSize)
			n, err := src.ReadAt(buf, tt.offset)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantN, n)
			assert.Equal(t, tt.want, string(buf[:n]))
		})
	}

	_, err = src.ReadAt(make([]byte, 1), -1)
	require.Error(t, err)
}

func TestNewSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == nethttp.MethodHead {
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := folhttp.NewSource(context.Background(), server.URL)
	require.ErrorIs(t, err, folhttp.ErrRangeUnsupported)
}

func TestSourceRangeMismatch(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	var shift atomic.Bool
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if shift.Load() && r.Header.Get("Range") != "" {
			// Serve the right length from the wrong offset.
			r.Header.Set("Range", "bytes=0-4")
		}
		nethttp.ServeContent(w, r, "book.cbz", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := folhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	shift.Store(true)
	n, err = src.ReadAt(buf, 6)
	require.ErrorIs(t, err, folhttp.ErrRangeMismatch)
	assert.Zero(t, n)

	// A matching range is still accepted.
	n, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestNewSourceNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := folhttp.NewSource(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewSourceCanceled(t *testing.T) {
	t.Parallel()

	_, server := newContentServer(t, []byte("data"), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := folhttp.NewSource(ctx, server.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourceHeaders(t *testing.T) {
	t.Parallel()

	data := []byte("authorized content")
	var missing atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" || r.Header.Get("X-Trace") != "1" {
			missing.Add(1)
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := folhttp.NewSource(context.Background(), server.URL,
		folhttp.WithClient(server.Client()),
		folhttp.WithHeaders(nethttp.Header{"X-Trace": {"1"}}),
		folhttp.WithHeader("Authorization", "Bearer token"),
	)
	require.NoError(t, err)

	buf := make([]byte, 7)
	_, err = src.ReadAt(buf, 11)
	require.NoError(t, err)
	assert.Equal(t, "content", string(buf))
	assert.Zero(t, missing.Load())
}

func TestSourceConditionalHeaders(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	cs, server := newContentServer(t, data, `"v1"`)

	src, err := folhttp.NewSource(context.Background(), server.URL, folhttp.WithConditionalHeaders())
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	cs.etag.Store(`"v2"`)
	_, err = src.ReadAt(buf, 0)
	require.ErrorIs(t, err, folhttp.ErrSourceChanged)
}

func TestSourceUnconditionalIgnoresChange(t *testing.T) {
	t.Parallel()

	cs, server := newContentServer(t, []byte("hello world"), `"v1"`)

	src, err := folhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	cs.etag.Store(`"v2"`)
	buf := make([]byte, 5)
	_, err = src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))
}

func TestSourceID(t *testing.T) {
	t.Parallel()

	data := []byte("identity")
	_, serverA := newContentServer(t, data, `"a"`)
	_, serverB := newContentServer(t, data, `"b"`)

	a1, err := folhttp.NewSource(context.Background(), serverA.URL)
	require.NoError(t, err)
	a2, err := folhttp.NewSource(context.Background(), serverA.URL)
	require.NoError(t, err)
	b, err := folhttp.NewSource(context.Background(), serverB.URL)
	require.NoError(t, err)

	require.NoError(t, a1.ID().Validate())
	assert.Equal(t, a1.ID(), a2.ID())
	assert.NotEqual(t, a1.ID(), b.ID())
}

func TestSourceEmptyContent(t *testing.T) {
	t.Parallel()

	_, server := newContentServer(t, nil, "")

	src, err := folhttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Zero(t, src.Size())

	n, err := src.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestSourceOpenArchive(t *testing.T) {
	t.Parallel()

	page := testutil.Compressible(64 << 10)
	data := testutil.BuildZip(t, []testutil.ZipEntry{
		testutil.Deflated("ch1/001.jpg", page),
		testutil.Stored("ch1/002.png", []byte("png bytes")),
	})
	cs, server := newContentServer(t, data, `"book"`)

	src, err := folhttp.NewSource(context.Background(), server.URL, folhttp.WithConditionalHeaders())
	require.NoError(t, err)

	before := cs.gets.Load()
	archive, err := folio.Open(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, archive.Len())
	assert.LessOrEqual(t, cs.gets.Load()-before, int64(2), "indexing reads tail and directory only")

	got, err := archive.ReadFile(context.Background(), "ch1/001.jpg")
	require.NoError(t, err)
	assert.Equal(t, page, got)

	got, err = archive.ReadFile(context.Background(), "ch1/002.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), got)
}
