package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/folio/internal/ziptype"
)

const sentinel32 = 0xFFFFFFFF

// ZipEntry describes one member of a test archive.
type ZipEntry struct {
	Name string
	Data []byte

	// Method selects the compression method. Store and Deflate compress Data;
	// any other method writes Data verbatim.
	Method ziptype.Method

	// CRC32 replaces the computed checksum when OverrideCRC is set.
	CRC32       uint32
	OverrideCRC bool

	// Zip64 stores sizes and offset in a ZIP64 extra field behind sentinels.
	Zip64 bool

	// Zip64Fields moves only the selected fields into the ZIP64 extra field.
	// It is ignored when Zip64 is set.
	Zip64Fields Zip64Field

	// Extra is written before any generated ZIP64 extra field.
	Extra []byte
}

// Zip64Field selects header fields stored in the ZIP64 extra field.
type Zip64Field uint8

// ZIP64 extra field members, written in this order when present.
const (
	Zip64Uncompressed Zip64Field = 1 << iota
	Zip64Compressed
	Zip64Offset

	Zip64All = Zip64Uncompressed | Zip64Compressed | Zip64Offset
)

// ZipLayout records where the writer placed each record.
type ZipLayout struct {
	LocalHeaderOffsets []int
	CentralDirOffset   int
	CentralDirSize     int
	EndOfCentralDir    int
}

type zipConfig struct {
	comment   string
	zip64     bool
	prefix    []byte
	dirOffset *uint64
}

// ZipOption configures BuildZip.
type ZipOption func(*zipConfig)

// WithComment sets the archive comment.
func WithComment(comment string) ZipOption {
	return func(c *zipConfig) {
		c.comment = comment
	}
}

// WithZip64Directory writes a ZIP64 EOCD record and locator and sentinels the
// 32-bit EOCD fields.
func WithZip64Directory() ZipOption {
	return func(c *zipConfig) {
		c.zip64 = true
	}
}

// WithPrefix writes data before the first local header. Offsets in the
// directory account for it.
func WithPrefix(data []byte) ZipOption {
	return func(c *zipConfig) {
		c.prefix = data
	}
}

// WithDirectoryOffset overrides the Central Directory offset recorded in the
// EOCD (or ZIP64 EOCD) record.
func WithDirectoryOffset(offset uint64) ZipOption {
	return func(c *zipConfig) {
		c.dirOffset = &offset
	}
}

// BuildZip returns a ZIP archive containing entries in order.
func BuildZip(tb testing.TB, entries []ZipEntry, opts ...ZipOption) []byte {
	tb.Helper()
	data, _ := BuildZipLayout(tb, entries, opts...)
	return data
}

// WriteZip writes a ZIP archive to dir/name and returns its path.
func WriteZip(tb testing.TB, dir, name string, entries []ZipEntry, opts ...ZipOption) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, BuildZip(tb, entries, opts...), 0o600); err != nil {
		tb.Fatalf("write zip: %v", err)
	}
	return path
}

// BuildZipLayout is BuildZip that also reports record positions.
func BuildZipLayout(tb testing.TB, entries []ZipEntry, opts ...ZipOption) ([]byte, ZipLayout) {
	tb.Helper()

	cfg := zipConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		buf     []byte
		layout  ZipLayout
		central []byte
	)
	buf = append(buf, cfg.prefix...)

	for i := range entries {
		e := &entries[i]
		payload := compress(tb, e)
		crc := crc32.ChecksumIEEE(e.Data)
		if e.OverrideCRC {
			crc = e.CRC32
		}
		offset := uint64(len(buf))
		layout.LocalHeaderOffsets = append(layout.LocalHeaderOffsets, len(buf))

		csize, usize, lho := uint32(len(payload)), uint32(len(e.Data)), uint32(offset)
		fields := e.Zip64Fields
		if e.Zip64 {
			fields = Zip64All
		}
		zip64 := fields != 0

		extra := append([]byte(nil), e.Extra...)
		if zip64 {
			var values []byte
			if fields&Zip64Uncompressed != 0 {
				usize = sentinel32
				values = binary.LittleEndian.AppendUint64(values, uint64(len(e.Data)))
			}
			if fields&Zip64Compressed != 0 {
				csize = sentinel32
				values = binary.LittleEndian.AppendUint64(values, uint64(len(payload)))
			}
			if fields&Zip64Offset != 0 {
				lho = sentinel32
				values = binary.LittleEndian.AppendUint64(values, offset)
			}
			extra = binary.LittleEndian.AppendUint16(extra, 0x0001)
			extra = binary.LittleEndian.AppendUint16(extra, uint16(len(values)))
			extra = append(extra, values...)
		}

		// Local header carries the same extra field as the directory.
		buf = binary.LittleEndian.AppendUint32(buf, 0x04034b50)
		buf = binary.LittleEndian.AppendUint16(buf, versionFor(zip64))
		buf = binary.LittleEndian.AppendUint16(buf, 0)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Method))
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, crc)
		buf = binary.LittleEndian.AppendUint32(buf, csize)
		buf = binary.LittleEndian.AppendUint32(buf, usize)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Name)))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(extra)))
		buf = append(buf, e.Name...)
		buf = append(buf, extra...)
		buf = append(buf, payload...)

		central = binary.LittleEndian.AppendUint32(central, 0x02014b50)
		central = binary.LittleEndian.AppendUint16(central, 20)
		central = binary.LittleEndian.AppendUint16(central, versionFor(zip64))
		central = binary.LittleEndian.AppendUint16(central, 0)
		central = binary.LittleEndian.AppendUint16(central, uint16(e.Method))
		central = binary.LittleEndian.AppendUint32(central, 0)
		central = binary.LittleEndian.AppendUint32(central, crc)
		central = binary.LittleEndian.AppendUint32(central, csize)
		central = binary.LittleEndian.AppendUint32(central, usize)
		central = binary.LittleEndian.AppendUint16(central, uint16(len(e.Name)))
		central = binary.LittleEndian.AppendUint16(central, uint16(len(extra)))
		central = binary.LittleEndian.AppendUint16(central, 0)
		central = binary.LittleEndian.AppendUint16(central, 0)
		central = binary.LittleEndian.AppendUint16(central, 0)
		central = binary.LittleEndian.AppendUint32(central, 0)
		central = binary.LittleEndian.AppendUint32(central, lho)
		central = append(central, e.Name...)
		central = append(central, extra...)
	}

	layout.CentralDirOffset = len(buf)
	layout.CentralDirSize = len(central)
	buf = append(buf, central...)

	dirOffset := uint64(layout.CentralDirOffset)
	if cfg.dirOffset != nil {
		dirOffset = *cfg.dirOffset
	}
	count := uint64(len(entries))

	eocdCount, eocdSize, eocdOffset := uint16(count), uint32(len(central)), uint32(dirOffset)
	if cfg.zip64 {
		eocdCount, eocdSize, eocdOffset = 0xFFFF, sentinel32, sentinel32

		recOffset := uint64(len(buf))
		buf = binary.LittleEndian.AppendUint32(buf, 0x06064b50)
		buf = binary.LittleEndian.AppendUint64(buf, 44)
		buf = binary.LittleEndian.AppendUint16(buf, 45)
		buf = binary.LittleEndian.AppendUint16(buf, 45)
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		buf = binary.LittleEndian.AppendUint64(buf, count)
		buf = binary.LittleEndian.AppendUint64(buf, count)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(central)))
		buf = binary.LittleEndian.AppendUint64(buf, dirOffset)

		buf = binary.LittleEndian.AppendUint32(buf, 0x07064b50)
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		buf = binary.LittleEndian.AppendUint64(buf, recOffset)
		buf = binary.LittleEndian.AppendUint32(buf, 1)
	}

	layout.EndOfCentralDir = len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, 0x06054b50)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, eocdCount)
	buf = binary.LittleEndian.AppendUint16(buf, eocdCount)
	buf = binary.LittleEndian.AppendUint32(buf, eocdSize)
	buf = binary.LittleEndian.AppendUint32(buf, eocdOffset)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(cfg.comment)))
	buf = append(buf, cfg.comment...)

	return buf, layout
}

// Stored returns a stored entry.
func Stored(name string, data []byte) ZipEntry {
	return ZipEntry{Name: name, Data: data, Method: ziptype.MethodStore}
}

// Deflated returns a deflated entry.
func Deflated(name string, data []byte) ZipEntry {
	return ZipEntry{Name: name, Data: data, Method: ziptype.MethodDeflate}
}

// Dir returns a directory entry.
func Dir(name string) ZipEntry {
	return ZipEntry{Name: name, Method: ziptype.MethodStore}
}

// Compressible returns n bytes of repetitive text.
func Compressible(n int) []byte {
	return bytes.Repeat([]byte("folio page data "), n/16+1)[:n]
}

func versionFor(zip64 bool) uint16 {
	if zip64 {
		return 45
	}
	return 20
}

func compress(tb testing.TB, e *ZipEntry) []byte {
	tb.Helper()
	if e.Method != ziptype.MethodDeflate {
		return e.Data
	}
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.BestCompression)
	if err != nil {
		tb.Fatalf("flate writer: %v", err)
	}
	if _, err := w.Write(e.Data); err != nil {
		tb.Fatalf("deflate %s: %v", e.Name, err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("deflate %s: %v", e.Name, err)
	}
	return out.Bytes()
}
