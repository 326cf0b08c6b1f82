package extract

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// InflatePool manages reusable raw DEFLATE readers to reduce allocation overhead.
type InflatePool struct {
	pool sync.Pool
}

// NewInflatePool creates an empty pool of DEFLATE readers.
func NewInflatePool() *InflatePool {
	return &InflatePool{}
}

// Get returns a raw DEFLATE reader consuming r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *InflatePool) Get(r io.Reader) (io.Reader, func(), error) {
	if p == nil {
		// No pool available, create a one-off reader
		rc := flate.NewReader(r)
		return rc, func() { _ = rc.Close() }, nil
	}

	value := p.pool.Get()
	if value == nil {
		rc := flate.NewReader(r)
		return rc, p.releaseFunc(rc), nil
	}

	rc, ok := value.(io.ReadCloser)
	if !ok {
		// Unexpected type in pool, create new
		rc = flate.NewReader(r)
		return rc, p.releaseFunc(rc), nil
	}

	resetter, ok := rc.(flate.Resetter)
	if !ok {
		rc = flate.NewReader(r)
		return rc, p.releaseFunc(rc), nil
	}
	if err := resetter.Reset(r, nil); err != nil {
		// Reset failed, drop this one and create new
		_ = rc.Close()
		rc = flate.NewReader(r)
	}
	return rc, p.releaseFunc(rc), nil
}

// releaseFunc returns rc to the pool after detaching it from its input.
func (p *InflatePool) releaseFunc(rc io.ReadCloser) func() {
	return func() {
		if resetter, ok := rc.(flate.Resetter); ok {
			_ = resetter.Reset(eofReader{}, nil) //nolint:errcheck // clearing state before pool return
		}
		p.pool.Put(rc)
	}
}

// eofReader is an empty input used to release references held by pooled readers.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
