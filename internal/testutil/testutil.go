// Package testutil provides in-memory sources and a minimal ZIP writer for tests.
package testutil

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/meigma/folio/internal/ziptype"
)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data []byte
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// CountingSource wraps a ByteSource and records every read.
type CountingSource struct {
	ziptype.ByteSource

	reads atomic.Int64
	bytes atomic.Int64
}

// NewCountingSource wraps src.
func NewCountingSource(src ziptype.ByteSource) *CountingSource {
	return &CountingSource{ByteSource: src}
}

// ReadAt forwards to the wrapped source.
func (c *CountingSource) ReadAt(p []byte, off int64) (int, error) {
	c.reads.Add(1)
	n, err := c.ByteSource.ReadAt(p, off)
	c.bytes.Add(int64(n))
	return n, err
}

// Reads returns the number of ReadAt calls.
func (c *CountingSource) Reads() int64 {
	return c.reads.Load()
}

// BytesRead returns the total number of bytes returned by ReadAt.
func (c *CountingSource) BytesRead() int64 {
	return c.bytes.Load()
}

// FailingSource returns Err for any read that extends past FailFrom.
type FailingSource struct {
	ziptype.ByteSource

	FailFrom int64
	Err      error
}

// ReadAt implements io.ReaderAt.
func (f *FailingSource) ReadAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > f.FailFrom {
		return 0, f.Err
	}
	return f.ByteSource.ReadAt(p, off)
}

// GatedSource holds every read made after Arm until Release is called.
type GatedSource struct {
	ziptype.ByteSource

	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	enter   sync.Once
	open    sync.Once
}

// NewGatedSource wraps src. Reads pass through until Arm is called.
func NewGatedSource(src ziptype.ByteSource) *GatedSource {
	return &GatedSource{
		ByteSource: src,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

// Arm starts holding reads.
func (g *GatedSource) Arm() {
	g.armed.Store(true)
}

// Entered is closed once the first held read has started.
func (g *GatedSource) Entered() <-chan struct{} {
	return g.entered
}

// Release lets held reads continue. It may be called more than once.
func (g *GatedSource) Release() {
	g.open.Do(func() { close(g.release) })
}

// ReadAt implements io.ReaderAt.
func (g *GatedSource) ReadAt(p []byte, off int64) (int, error) {
	if g.armed.Load() {
		g.enter.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.ByteSource.ReadAt(p, off)
}
