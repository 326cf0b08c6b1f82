package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/folio/internal/testutil"
	"github.com/meigma/folio/internal/ziptype"
)

func mustRead(tb testing.TB, data []byte) []ziptype.Entry {
	tb.Helper()
	entries, err := Read(context.Background(), testutil.NewMockByteSource(data))
	require.NoError(tb, err, "Read failed")
	return entries
}

func names(entries []ziptype.Entry) []string {
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Name
	}
	return out
}

func TestRead(t *testing.T) {
	t.Parallel()

	page := testutil.Compressible(4096)
	data, layout := testutil.BuildZipLayout(t, []testutil.ZipEntry{
		testutil.Dir("vol1/"),
		testutil.Stored("vol1/002.jpg", []byte("second")),
		testutil.Deflated("vol1/001.jpg", page),
	})

	entries := mustRead(t, data)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"vol1/002.jpg", "vol1/001.jpg"}, names(entries), "entries keep directory order")

	stored := entries[0]
	assert.Equal(t, ziptype.MethodStore, stored.Method)
	assert.Equal(t, uint64(6), stored.CompressedSize)
	assert.Equal(t, uint64(6), stored.UncompressedSize)
	assert.Equal(t, uint64(layout.LocalHeaderOffsets[1]), stored.LocalHeaderOffset)
	assert.NotZero(t, stored.CRC32)

	deflated := entries[1]
	assert.Equal(t, ziptype.MethodDeflate, deflated.Method)
	assert.Equal(t, uint64(len(page)), deflated.UncompressedSize)
	assert.Less(t, deflated.CompressedSize, deflated.UncompressedSize)
	assert.Equal(t, uint64(layout.LocalHeaderOffsets[2]), deflated.LocalHeaderOffset)
}

func TestReadEmptyArchive(t *testing.T) {
	t.Parallel()

	entries := mustRead(t, testutil.BuildZip(t, nil))
	assert.Empty(t, entries)
}

func TestReadArchiveComment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		comment string
	}{
		{name: "short", comment: "scanned by folio"},
		{name: "long", comment: string(bytes.Repeat([]byte("c"), 60000))},
		{name: "fills tail window", comment: string(bytes.Repeat([]byte("m"), maxTailLen-endOfCentralDirLen))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			data := testutil.BuildZip(t, []testutil.ZipEntry{
				testutil.Stored("a.png", []byte("png")),
			}, testutil.WithComment(tc.comment))

			entries := mustRead(t, data)
			assert.Equal(t, []string{"a.png"}, names(entries))
		})
	}
}

func TestReadPrefixedArchive(t *testing.T) {
	t.Parallel()

	prefix := bytes.Repeat([]byte{0x90}, 1024)
	data, layout := testutil.BuildZipLayout(t, []testutil.ZipEntry{
		testutil.Stored("a.png", []byte("png")),
	}, testutil.WithPrefix(prefix))

	entries := mustRead(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(layout.LocalHeaderOffsets[0]), entries[0].LocalHeaderOffset)
	assert.Equal(t, uint64(len(prefix)), entries[0].LocalHeaderOffset)
}

func TestReadZip64(t *testing.T) {
	t.Parallel()

	t.Run("extra field", func(t *testing.T) {
		t.Parallel()
		e := testutil.Deflated("big.jpg", testutil.Compressible(2048))
		e.Zip64 = true
		data, layout := testutil.BuildZipLayout(t, []testutil.ZipEntry{
			testutil.Stored("small.jpg", []byte("small")),
			e,
		})

		entries := mustRead(t, data)
		require.Len(t, entries, 2)
		assert.Equal(t, uint64(2048), entries[1].UncompressedSize)
		assert.NotEqual(t, uint64(0xFFFFFFFF), entries[1].CompressedSize)
		assert.Equal(t, uint64(layout.LocalHeaderOffsets[1]), entries[1].LocalHeaderOffset)
	})

	t.Run("partial extra field", func(t *testing.T) {
		t.Parallel()

		page := testutil.Compressible(4096)
		tests := []struct {
			name   string
			fields testutil.Zip64Field
		}{
			{name: "compressed only", fields: testutil.Zip64Compressed},
			{name: "offset only", fields: testutil.Zip64Offset},
			{name: "uncompressed and offset", fields: testutil.Zip64Uncompressed | testutil.Zip64Offset},
			{name: "uncompressed and compressed", fields: testutil.Zip64Uncompressed | testutil.Zip64Compressed},
			{name: "all fields", fields: testutil.Zip64All},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				e := testutil.Deflated("big.jpg", page)
				e.Zip64Fields = tc.fields
				plain := testutil.Deflated("big.jpg", page)

				data, layout := testutil.BuildZipLayout(t, []testutil.ZipEntry{
					testutil.Stored("small.jpg", []byte("small")),
					e,
				})
				want := mustRead(t, testutil.BuildZip(t, []testutil.ZipEntry{
					testutil.Stored("small.jpg", []byte("small")),
					plain,
				}))

				entries := mustRead(t, data)
				require.Len(t, entries, 2)
				got := entries[1]
				assert.Equal(t, uint64(len(page)), got.UncompressedSize)
				assert.Equal(t, want[1].CompressedSize, got.CompressedSize)
				assert.Less(t, got.CompressedSize, got.UncompressedSize)
				assert.Equal(t, uint64(layout.LocalHeaderOffsets[1]), got.LocalHeaderOffset)
				assert.Equal(t, want[1].CRC32, got.CRC32)
			})
		}
	})

	t.Run("extra field after unrelated extra", func(t *testing.T) {
		t.Parallel()
		e := testutil.Stored("big.jpg", []byte("payload"))
		e.Zip64 = true
		// Extended timestamp block.
		e.Extra = []byte{0x55, 0x54, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}

		entries := mustRead(t, testutil.BuildZip(t, []testutil.ZipEntry{e}))
		require.Len(t, entries, 1)
		assert.Equal(t, uint64(7), entries[0].CompressedSize)
		assert.Equal(t, uint64(7), entries[0].UncompressedSize)
		assert.Equal(t, uint64(0), entries[0].LocalHeaderOffset)
	})

	t.Run("end of central directory", func(t *testing.T) {
		t.Parallel()
		data := testutil.BuildZip(t, []testutil.ZipEntry{
			testutil.Stored("1.jpg", []byte("one")),
			testutil.Stored("2.jpg", []byte("two")),
		}, testutil.WithZip64Directory(), testutil.WithComment("zip64"))

		entries := mustRead(t, data)
		assert.Equal(t, []string{"1.jpg", "2.jpg"}, names(entries))
	})
}

func TestReadNonUTF8Name(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.ZipEntry{
		testutil.Stored("\xff\xfe.jpg", []byte("x")),
	})

	entries := mustRead(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "\uFFFD.jpg", entries[0].Name)
}

func TestReadKeepsUnsupportedMethod(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.jpg", Data: []byte("bzip2 data"), Method: ziptype.Method(12)},
	})

	entries := mustRead(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, ziptype.Method(12), entries[0].Method)
}

func TestReadTouchesOnlyMetadata(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0xAB}, 1<<20)
	data := testutil.BuildZip(t, []testutil.ZipEntry{
		testutil.Stored("huge.png", payload),
		testutil.Stored("tiny.png", []byte("tiny")),
	})
	src := testutil.NewCountingSource(testutil.NewMockByteSource(data))

	entries, err := Read(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.LessOrEqual(t, src.BytesRead(), int64(maxTailLen+1024))
	assert.Equal(t, int64(2), src.Reads(), "tail and central directory")
}

func TestReadFormatErrors(t *testing.T) {
	t.Parallel()

	valid := func(tb testing.TB) ([]byte, testutil.ZipLayout) {
		tb.Helper()
		return testutil.BuildZipLayout(tb, []testutil.ZipEntry{
			testutil.Stored("a.jpg", []byte("aaaa")),
			testutil.Stored("b.jpg", []byte("bbbb")),
		})
	}

	tests := []struct {
		name   string
		mutate func(tb testing.TB) []byte
	}{
		{
			name: "empty source",
			mutate: func(testing.TB) []byte {
				return nil
			},
		},
		{
			name: "no end of central directory",
			mutate: func(testing.TB) []byte {
				return bytes.Repeat([]byte("not a zip "), 100)
			},
		},
		{
			name: "shorter than end record",
			mutate: func(testing.TB) []byte {
				return []byte("PK\x05\x06")
			},
		},
		{
			name: "directory beyond archive",
			mutate: func(tb testing.TB) []byte {
				return testutil.BuildZip(tb, []testutil.ZipEntry{
					testutil.Stored("a.jpg", []byte("a")),
				}, testutil.WithDirectoryOffset(1<<20))
			},
		},
		{
			name: "truncated archive",
			mutate: func(tb testing.TB) []byte {
				data, layout := valid(tb)
				// Drop the first local header; the directory now overruns the file start.
				out := append([]byte(nil), data[layout.LocalHeaderOffsets[1]:]...)
				return out
			},
		},
		{
			name: "record name overruns directory",
			mutate: func(tb testing.TB) []byte {
				data, layout := valid(tb)
				binary.LittleEndian.PutUint16(data[layout.CentralDirOffset+28:], 0xFFFF)
				return data
			},
		},
		{
			name: "sentinel without zip64 extra",
			mutate: func(tb testing.TB) []byte {
				data, layout := valid(tb)
				binary.LittleEndian.PutUint32(data[layout.CentralDirOffset+20:], 0xFFFFFFFF)
				return data
			},
		},
		{
			name: "sentinel directory without locator",
			mutate: func(tb testing.TB) []byte {
				data, layout := valid(tb)
				binary.LittleEndian.PutUint32(data[layout.EndOfCentralDir+16:], 0xFFFFFFFF)
				return data
			},
		},
		{
			name: "corrupt zip64 locator",
			mutate: func(tb testing.TB) []byte {
				data, layout := testutil.BuildZipLayout(tb, []testutil.ZipEntry{
					testutil.Stored("a.jpg", []byte("a")),
				}, testutil.WithZip64Directory())
				copy(data[layout.EndOfCentralDir-20:], "XXXX")
				return data
			},
		},
		{
			name: "zip64 record offset out of bounds",
			mutate: func(tb testing.TB) []byte {
				data, layout := testutil.BuildZipLayout(tb, []testutil.ZipEntry{
					testutil.Stored("a.jpg", []byte("a")),
				}, testutil.WithZip64Directory())
				binary.LittleEndian.PutUint64(data[layout.EndOfCentralDir-12:], 1<<40)
				return data
			},
		},
		{
			name: "zip64 extra field too short",
			mutate: func(tb testing.TB) []byte {
				e := testutil.Stored("a.jpg", []byte("a"))
				e.Zip64 = true
				data, layout := testutil.BuildZipLayout(tb, []testutil.ZipEntry{e})
				// Shrink the declared ZIP64 block from 24 to 8 bytes.
				extraStart := layout.CentralDirOffset + 46 + len("a.jpg")
				binary.LittleEndian.PutUint16(data[extraStart+2:], 8)
				return data
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Read(context.Background(), testutil.NewMockByteSource(tc.mutate(t)))
			require.Error(t, err)
			assert.ErrorIs(t, err, ziptype.ErrFormat)
		})
	}
}

func TestReadSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	data := testutil.BuildZip(t, []testutil.ZipEntry{testutil.Stored("a.jpg", []byte("a"))})
	src := &testutil.FailingSource{
		ByteSource: testutil.NewMockByteSource(data),
		FailFrom:   0,
		Err:        boom,
	}

	_, err := Read(context.Background(), src)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ziptype.ErrFormat)
}

func TestReadCanceled(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.ZipEntry{testutil.Stored("a.jpg", []byte("a"))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, testutil.NewMockByteSource(data))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadRepeatable(t *testing.T) {
	t.Parallel()

	data := testutil.BuildZip(t, []testutil.ZipEntry{
		testutil.Stored("b.jpg", []byte("b")),
		testutil.Deflated("a.jpg", testutil.Compressible(100)),
	})
	assert.Equal(t, mustRead(t, data), mustRead(t, data))
}
