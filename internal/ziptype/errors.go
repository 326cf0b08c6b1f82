package ziptype

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
var (
	// ErrFormat is returned when the archive bytes do not form a valid ZIP structure.
	ErrFormat = errors.New("folio: format error")

	// ErrIntegrity is returned when extracted content fails verification.
	ErrIntegrity = errors.New("folio: integrity error")

	// ErrDecompression is returned when a DEFLATE stream cannot be decoded.
	// It matches ErrFormat under errors.Is.
	ErrDecompression = fmt.Errorf("%w: decompression failed", ErrFormat)

	// ErrSizeOverflow is returned when a declared size exceeds supported limits.
	ErrSizeOverflow = errors.New("folio: size overflow")
)

// ChecksumError reports a CRC-32 mismatch for an extracted entry.
type ChecksumError struct {
	Name     string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch: expected 0x%08x, got 0x%08x", e.Name, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *ChecksumError) Unwrap() error {
	return ErrIntegrity
}

// FormatErrorf wraps ErrFormat with a formatted detail message.
func FormatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
