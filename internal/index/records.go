package index

import (
	"encoding/binary"

	"github.com/meigma/folio/internal/ziptype"
)

// Record signatures.
const (
	sigEndOfCentralDir   = 0x06054b50
	sigZip64Locator      = 0x07064b50
	sigZip64EndOfCentral = 0x06064b50
	sigCentralDirHeader  = 0x02014b50
)

// Fixed record lengths.
const (
	endOfCentralDirLen   = 22
	zip64LocatorLen      = 20
	zip64EndOfCentralLen = 56
	centralDirHeaderLen  = 46
)

const (
	// maxTailLen bounds the backward EOCD scan.
	maxTailLen = 65536

	zip64ExtraTag = 0x0001
	sentinel32    = 0xFFFFFFFF
)

var le = binary.LittleEndian

// directory locates the Central Directory inside the archive.
type directory struct {
	offset uint64
	size   uint64
	count  uint64
}

// findEndOfCentralDir scans tail backwards for the EOCD signature and returns
// its position, or -1 when absent.
func findEndOfCentralDir(tail []byte) int {
	for i := len(tail) - endOfCentralDirLen; i >= 0; i-- {
		if le.Uint32(tail[i:]) == sigEndOfCentralDir {
			return i
		}
	}
	return -1
}

// parseEndOfCentralDir decodes the 32-bit directory location.
func parseEndOfCentralDir(rec []byte) directory {
	return directory{
		count:  uint64(le.Uint16(rec[10:])),
		size:   uint64(le.Uint32(rec[12:])),
		offset: uint64(le.Uint32(rec[16:])),
	}
}

// needsZip64 reports whether the EOCD defers to the ZIP64 record.
func (d directory) needsZip64() bool {
	return d.size == sentinel32 || d.offset == sentinel32
}

// parseZip64Locator returns the absolute offset of the ZIP64 EOCD record.
func parseZip64Locator(rec []byte) (uint64, error) {
	if len(rec) < zip64LocatorLen || le.Uint32(rec) != sigZip64Locator {
		return 0, ziptype.FormatErrorf("zip64 end of central directory locator not found")
	}
	return le.Uint64(rec[8:]), nil
}

// parseZip64EndOfCentralDir decodes the 64-bit directory location.
func parseZip64EndOfCentralDir(rec []byte) (directory, error) {
	if len(rec) < zip64EndOfCentralLen || le.Uint32(rec) != sigZip64EndOfCentral {
		return directory{}, ziptype.FormatErrorf("invalid zip64 end of central directory")
	}
	return directory{
		count:  le.Uint64(rec[32:]),
		size:   le.Uint64(rec[40:]),
		offset: le.Uint64(rec[48:]),
	}, nil
}

// centralHeader is the fixed part of a Central Directory File Header.
type centralHeader struct {
	method            uint16
	crc32             uint32
	compressedSize    uint64
	uncompressedSize  uint64
	nameLen           int
	extraLen          int
	commentLen        int
	localHeaderOffset uint64
}

func parseCentralHeader(rec []byte) centralHeader {
	return centralHeader{
		method:            le.Uint16(rec[10:]),
		crc32:             le.Uint32(rec[16:]),
		compressedSize:    uint64(le.Uint32(rec[20:])),
		uncompressedSize:  uint64(le.Uint32(rec[24:])),
		nameLen:           int(le.Uint16(rec[28:])),
		extraLen:          int(le.Uint16(rec[30:])),
		commentLen:        int(le.Uint16(rec[32:])),
		localHeaderOffset: uint64(le.Uint32(rec[42:])),
	}
}

// recordLen returns the full length of the header including its variable fields.
func (h centralHeader) recordLen() int {
	return centralDirHeaderLen + h.nameLen + h.extraLen + h.commentLen
}

// applyZip64Extra replaces sentineled sizes and offsets with the 64-bit values
// from the ZIP64 extended information extra field.
//
// Only sentineled fields are present in the block, always in the order
// uncompressed size, compressed size, local header offset.
func applyZip64Extra(h *centralHeader, extra []byte, name string) error {
	needUncompressed := h.uncompressedSize == sentinel32
	needCompressed := h.compressedSize == sentinel32
	needOffset := h.localHeaderOffset == sentinel32
	if !needUncompressed && !needCompressed && !needOffset {
		return nil
	}

	for len(extra) >= 4 {
		tag := le.Uint16(extra)
		size := int(le.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return ziptype.FormatErrorf("%s: truncated extra field", name)
		}
		if tag != zip64ExtraTag {
			extra = extra[size:]
			continue
		}

		field := extra[:size]
		next := func(v *uint64) error {
			if len(field) < 8 {
				return ziptype.FormatErrorf("%s: zip64 extra field too short", name)
			}
			*v = le.Uint64(field)
			field = field[8:]
			return nil
		}
		if needUncompressed {
			if err := next(&h.uncompressedSize); err != nil {
				return err
			}
		}
		if needCompressed {
			if err := next(&h.compressedSize); err != nil {
				return err
			}
		}
		if needOffset {
			if err := next(&h.localHeaderOffset); err != nil {
				return err
			}
		}
		return nil
	}
	return ziptype.FormatErrorf("%s: missing zip64 extra field", name)
}
