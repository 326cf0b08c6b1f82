// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import (
	"io"
	"math"
)

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// InBounds reports whether the range [off, off+length) lies within a source of
// the given size.
func InBounds(off, length uint64, size int64) bool {
	if size < 0 {
		return false
	}
	end, ok := AddUint64(off, length)
	return ok && end <= uint64(size)
}

// ReadAllWithLimit reads up to maxSize bytes from r into a buffer preallocated
// with sizeHint bytes of capacity (clamped to maxSize).
// Returns overflowErr if more than maxSize bytes are available. A maxSize of 0
// disables the limit.
func ReadAllWithLimit(r io.Reader, sizeHint, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize == 0 {
		maxSize = math.MaxInt - 1
	}
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	if sizeHint > maxSize {
		sizeHint = maxSize
	}
	// Cap the preallocation; declared sizes come from untrusted headers.
	const maxPrealloc = 64 << 20
	if sizeHint > maxPrealloc {
		sizeHint = maxPrealloc
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	buf := make([]byte, 0, int(sizeHint)+1) //nolint:gosec // clamped above
	for {
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, err := lr.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if uint64(len(buf)) > maxSize {
		return nil, overflowErr
	}
	return buf, nil
}
