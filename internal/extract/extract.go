// Package extract reads and verifies the content of individual ZIP entries.
package extract

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/folio/internal/sizing"
	"github.com/meigma/folio/internal/ziptype"
)

// DefaultMaxEntrySize is the default maximum entry size (256MB).
const DefaultMaxEntrySize = 256 << 20

const (
	sigLocalHeader = 0x04034b50
	localHeaderLen = 30
)

// Extractor reads entry payloads from a ByteSource, decompresses them, and
// verifies their CRC-32.
//
// An Extractor holds no per-archive state and is safe for concurrent use.
type Extractor struct {
	maxEntrySize uint64
	pool         *InflatePool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxEntrySize limits the compressed and uncompressed size of a single entry.
// Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(x *Extractor) {
		x.maxEntrySize = limit
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.pool = NewInflatePool()
	return x
}

// MaxEntrySize returns the configured maximum entry size.
func (x *Extractor) MaxEntrySize() uint64 {
	return x.maxEntrySize
}

// Extract returns the decompressed content of entry.
//
// Unsupported methods fail with ziptype.ErrFormat before anything is read.
// When entry.CRC32 is non-zero the content is verified and a mismatch is
// reported as *ziptype.ChecksumError.
func (x *Extractor) Extract(ctx context.Context, src ziptype.ByteSource, entry *ziptype.Entry) ([]byte, error) {
	if !entry.Method.Supported() {
		return nil, ziptype.FormatErrorf("%s: unsupported compression method: %d", entry.Name, uint16(entry.Method))
	}
	if x.maxEntrySize > 0 && (entry.CompressedSize > x.maxEntrySize || entry.UncompressedSize > x.maxEntrySize) {
		return nil, fmt.Errorf("%s: %w", entry.Name, ziptype.ErrSizeOverflow)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataOffset, err := payloadOffset(src, entry)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sizing.InBounds(dataOffset, entry.CompressedSize, src.Size()) {
		return nil, ziptype.FormatErrorf("%s: payload %d+%d exceeds archive size %d",
			entry.Name, dataOffset, entry.CompressedSize, src.Size())
	}

	var (
		content []byte
		sum     uint32
	)
	switch entry.Method {
	case ziptype.MethodStore:
		content, err = readStored(src, entry, dataOffset)
		if err == nil {
			sum = crc32.ChecksumIEEE(content)
		}
	case ziptype.MethodDeflate:
		content, sum, err = x.readDeflate(src, entry, dataOffset)
	}
	if err != nil {
		return nil, err
	}

	if entry.CRC32 != 0 && sum != entry.CRC32 {
		return nil, &ziptype.ChecksumError{Name: entry.Name, Expected: entry.CRC32, Actual: sum}
	}
	return content, nil
}

// payloadOffset reads the Local File Header and returns the absolute offset of
// the entry's payload.
func payloadOffset(src ziptype.ByteSource, entry *ziptype.Entry) (uint64, error) {
	if !sizing.InBounds(entry.LocalHeaderOffset, localHeaderLen, src.Size()) {
		return 0, ziptype.FormatErrorf("%s: invalid local header", entry.Name)
	}
	off, err := sizing.ToInt64(entry.LocalHeaderOffset, ziptype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}

	hdr, err := ziptype.ReadRange(src, off, localHeaderLen)
	if err != nil {
		return 0, fmt.Errorf("%s: read local header: %w", entry.Name, err)
	}
	if binary.LittleEndian.Uint32(hdr) != sigLocalHeader {
		return 0, ziptype.FormatErrorf("%s: invalid local header", entry.Name)
	}

	nameLen := uint64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := uint64(binary.LittleEndian.Uint16(hdr[28:]))
	return entry.LocalHeaderOffset + localHeaderLen + nameLen + extraLen, nil
}

// readStored reads a stored payload verbatim.
func readStored(src ziptype.ByteSource, entry *ziptype.Entry, dataOffset uint64) ([]byte, error) {
	off, err := sizing.ToInt64(dataOffset, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	length, err := sizing.ToInt(entry.CompressedSize, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	content, err := ziptype.ReadRange(src, off, length)
	if err != nil {
		return nil, fmt.Errorf("%s: read payload: %w", entry.Name, err)
	}
	return content, nil
}

// readDeflate streams the payload through a raw DEFLATE reader while computing
// the CRC-32 of the output. The output may not exceed the declared
// uncompressed size; shorter output is left to the checksum.
func (x *Extractor) readDeflate(src ziptype.ByteSource, entry *ziptype.Entry, dataOffset uint64) ([]byte, uint32, error) {
	off, err := sizing.ToInt64(dataOffset, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, 0, err
	}
	length, err := sizing.ToInt64(entry.CompressedSize, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, 0, err
	}

	declared, err := sizing.ToInt64(entry.UncompressedSize, ziptype.ErrSizeOverflow)
	if err != nil || declared == math.MaxInt64 {
		return nil, 0, fmt.Errorf("%s: %w", entry.Name, ziptype.ErrSizeOverflow)
	}

	section := io.NewSectionReader(src, off, length)
	inflater, release, err := x.pool.Get(section)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w: %w", entry.Name, ziptype.ErrDecompression, err)
	}
	defer release()

	// Extract has already held the declared size to maxEntrySize.
	hr := NewHashingReader(inflater, crc32.NewIEEE())
	content, err := sizing.ReadAllWithLimit(io.LimitReader(hr, declared+1), entry.UncompressedSize, 0, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, 0, mapInflateError(entry, err)
	}
	if int64(len(content)) > declared {
		return nil, 0, fmt.Errorf("%s: %w: output exceeds declared size %d", entry.Name, ziptype.ErrDecompression, declared)
	}
	return content, hr.Sum32(), nil
}

// mapInflateError converts inflate errors to appropriate error types.
// Read failures from the source keep their original cause.
func mapInflateError(entry *ziptype.Entry, err error) error {
	var corrupt flate.CorruptInputError
	var internal flate.InternalError
	switch {
	case errors.Is(err, ziptype.ErrSizeOverflow):
		return fmt.Errorf("%s: %w", entry.Name, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &corrupt), errors.As(err, &internal):
		return fmt.Errorf("%s: %w: %w", entry.Name, ziptype.ErrDecompression, err)
	default:
		return fmt.Errorf("%s: read payload: %w", entry.Name, err)
	}
}
