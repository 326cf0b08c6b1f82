package extract

import (
	"hash"
	"io"
)

// HashingReader wraps an io.Reader and computes a CRC-32 of all data read.
type HashingReader struct {
	r io.Reader
	h hash.Hash32
}

// NewHashingReader creates a reader that computes a checksum while reading.
func NewHashingReader(r io.Reader, h hash.Hash32) *HashingReader {
	return &HashingReader{r: r, h: h}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

// Sum32 returns the checksum computed so far.
func (hr *HashingReader) Sum32() uint32 {
	return hr.h.Sum32()
}
