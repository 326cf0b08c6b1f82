package ziptype

import (
	"errors"
	"fmt"
	"io"
)

// ByteSource provides random access to archive bytes.
//
// Implementations must be safe for concurrent ReadAt calls.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// ReadRange reads exactly length bytes at off.
//
// A short read is reported as io.ErrUnexpectedEOF; other read failures are
// returned wrapped with the requested range.
func ReadRange(src ByteSource, off int64, length int) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("read range %d+%d: negative range", off, length)
	}
	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	n, err := src.ReadAt(buf, off)
	if n == length {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read range %d+%d: %w", off, length, err)
}
