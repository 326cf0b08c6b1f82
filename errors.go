package folio

import (
	"github.com/meigma/folio/internal/batch"
	"github.com/meigma/folio/internal/ziptype"
)

// Sentinel errors.
var (
	// ErrFormat is returned when the archive structure is invalid or an entry
	// uses an unsupported compression method.
	ErrFormat = ziptype.ErrFormat

	// ErrIntegrity is returned when extracted content does not match its CRC-32.
	ErrIntegrity = ziptype.ErrIntegrity

	// ErrDecompression is returned when a DEFLATE stream is corrupt.
	// It matches ErrFormat.
	ErrDecompression = ziptype.ErrDecompression

	// ErrSizeOverflow is returned when a declared size exceeds supported limits.
	ErrSizeOverflow = ziptype.ErrSizeOverflow
)

// ChecksumError reports a CRC-32 mismatch. It matches ErrIntegrity.
type ChecksumError = ziptype.ChecksumError

// ErrUnsafePath is returned by CopyTo and CopyAll for entry names that would
// be written outside the destination directory.
var ErrUnsafePath = batch.ErrUnsafePath
