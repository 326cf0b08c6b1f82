package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/meigma/folio/internal/sizing"
	"github.com/meigma/folio/internal/ziptype"
)

// ctxCheckInterval is the number of Central Directory records parsed between
// context checks.
const ctxCheckInterval = 256

// Read locates and parses the Central Directory of the archive in src.
//
// Entries are returned in Central Directory order with directory entries
// removed. Read fails with ziptype.ErrFormat when the archive structure is
// invalid; read failures from src are returned wrapped.
func Read(ctx context.Context, src ziptype.ByteSource) ([]ziptype.Entry, error) {
	dir, err := locate(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !sizing.InBounds(dir.offset, dir.size, src.Size()) {
		return nil, ziptype.FormatErrorf("central directory %d+%d exceeds archive size %d",
			dir.offset, dir.size, src.Size())
	}
	offset, err := sizing.ToInt64(dir.offset, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	length, err := sizing.ToInt(dir.size, ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	cd, err := ziptype.ReadRange(src, offset, length)
	if err != nil {
		return nil, fmt.Errorf("read central directory: %w", err)
	}
	return parseCentralDirectory(ctx, cd, dir.count)
}

// locate finds the EOCD record in the archive tail and resolves ZIP64 if the
// 32-bit fields are sentineled.
func locate(ctx context.Context, src ziptype.ByteSource) (directory, error) {
	size := src.Size()
	if size < 0 {
		return directory{}, ziptype.ErrSizeOverflow
	}

	tailLen := min(size, maxTailLen)
	tailStart := size - tailLen
	tail, err := ziptype.ReadRange(src, tailStart, int(tailLen))
	if err != nil {
		return directory{}, fmt.Errorf("read archive tail: %w", err)
	}

	pos := findEndOfCentralDir(tail)
	if pos < 0 {
		return directory{}, ziptype.FormatErrorf("no EOCD found")
	}
	dir := parseEndOfCentralDir(tail[pos:])
	if !dir.needsZip64() {
		return dir, nil
	}

	if err := ctx.Err(); err != nil {
		return directory{}, err
	}
	return locateZip64(src, tail, tailStart, pos)
}

// locateZip64 reads the ZIP64 locator that immediately precedes the EOCD and
// the ZIP64 EOCD record it points to.
func locateZip64(src ziptype.ByteSource, tail []byte, tailStart int64, eocdPos int) (directory, error) {
	var locator []byte
	switch {
	case eocdPos >= zip64LocatorLen:
		locator = tail[eocdPos-zip64LocatorLen : eocdPos]
	case tailStart+int64(eocdPos) >= zip64LocatorLen:
		// The locator straddles the start of the tail buffer.
		var err error
		locator, err = ziptype.ReadRange(src, tailStart+int64(eocdPos)-zip64LocatorLen, zip64LocatorLen)
		if err != nil {
			return directory{}, fmt.Errorf("read zip64 locator: %w", err)
		}
	default:
		return directory{}, ziptype.FormatErrorf("zip64 end of central directory locator not found")
	}

	recOffset, err := parseZip64Locator(locator)
	if err != nil {
		return directory{}, err
	}
	if !sizing.InBounds(recOffset, zip64EndOfCentralLen, src.Size()) {
		return directory{}, ziptype.FormatErrorf("zip64 end of central directory offset %d out of bounds", recOffset)
	}

	rec, err := ziptype.ReadRange(src, int64(recOffset), zip64EndOfCentralLen) //nolint:gosec // bounds checked above
	if err != nil {
		return directory{}, fmt.Errorf("read zip64 end of central directory: %w", err)
	}
	return parseZip64EndOfCentralDir(rec)
}

// parseCentralDirectory decodes consecutive Central Directory File Headers.
// A record with a different signature ends the directory.
func parseCentralDirectory(ctx context.Context, cd []byte, countHint uint64) ([]ziptype.Entry, error) {
	capHint := min(countHint, uint64(len(cd)/centralDirHeaderLen))
	entries := make([]ziptype.Entry, 0, capHint)

	for pos, n := 0, 0; len(cd)-pos >= 4; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec := cd[pos:]
		if le.Uint32(rec) != sigCentralDirHeader {
			break
		}
		if len(rec) < centralDirHeaderLen {
			return nil, ziptype.FormatErrorf("truncated central directory header at offset %d", pos)
		}

		h := parseCentralHeader(rec)
		if h.recordLen() > len(rec) {
			return nil, ziptype.FormatErrorf("truncated central directory record at offset %d", pos)
		}
		pos += h.recordLen()

		nameEnd := centralDirHeaderLen + h.nameLen
		name := strings.ToValidUTF8(string(rec[centralDirHeaderLen:nameEnd]), "\uFFFD")
		if ziptype.IsDir(name) {
			continue
		}
		if err := applyZip64Extra(&h, rec[nameEnd:nameEnd+h.extraLen], name); err != nil {
			return nil, err
		}

		entries = append(entries, ziptype.Entry{
			Name:              name,
			CompressedSize:    h.compressedSize,
			UncompressedSize:  h.uncompressedSize,
			Method:            ziptype.Method(h.method),
			LocalHeaderOffset: h.localHeaderOffset,
			CRC32:             h.crc32,
		})
	}
	return entries, nil
}
