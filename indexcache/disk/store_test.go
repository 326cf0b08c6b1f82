package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/folio"
	"github.com/meigma/folio/indexcache"
	"github.com/meigma/folio/internal/fb"
	"github.com/meigma/folio/internal/testutil"
)

func newStore(tb testing.TB, opts ...Option) *Store {
	tb.Helper()
	s, err := New(tb.TempDir(), opts...)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot(n int) indexcache.Snapshot {
	entries := make([]folio.Entry, n)
	for i := range entries {
		entries[i] = folio.Entry{
			Name:              fmt.Sprintf("vol/ch%02d/%03d.jpg", i/10, i),
			CompressedSize:    uint64(1000 + i),
			UncompressedSize:  uint64(5000 + i),
			Method:            folio.MethodDeflate,
			LocalHeaderOffset: uint64(i) << 33,
			CRC32:             0xCAFE0000 | uint32(i),
		}
	}
	return indexcache.Snapshot{
		ModTime: time.Date(2025, 6, 1, 8, 30, 0, 123456789, time.UTC),
		Entries: entries,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	want := sampleSnapshot(50)

	_, found, err := s.Load(ctx, "/library/a.cbz")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "/library/a.cbz", want))
	assert.Positive(t, s.SizeBytes())

	got, found, err := s.Load(ctx, "/library/a.cbz")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, want.ModTime.Equal(got.ModTime))
	assert.Equal(t, want.Entries, got.Entries)

	_, found, err = s.Load(ctx, "/library/b.cbz")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreEmptySnapshot(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	snap := indexcache.Snapshot{ModTime: time.Unix(1700000000, 0)}

	require.NoError(t, s.Save(ctx, "empty.zip", snap))
	got, found, err := s.Load(ctx, "empty.zip")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, got.Entries)
}

func TestStoreReplace(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a.cbz", sampleSnapshot(100)))
	size := s.SizeBytes()
	next := sampleSnapshot(1)
	require.NoError(t, s.Save(ctx, "a.cbz", next))
	assert.Less(t, s.SizeBytes(), size)

	got, found, err := s.Load(ctx, "a.cbz")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got.Entries, 1)
}

func TestStoreCorrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data func(s *Store) []byte
	}{
		{name: "not zstd", data: func(*Store) []byte { return []byte("garbage") }},
		{name: "empty document", data: func(s *Store) []byte { return s.encoder.EncodeAll(nil, nil) }},
		{name: "truncated document", data: func(s *Store) []byte {
			doc := encode("a.cbz", sampleSnapshot(5))
			return s.encoder.EncodeAll(doc[:len(doc)/3], nil)
		}},
		{name: "wrong version", data: func(s *Store) []byte {
			builder := flatbuffers.NewBuilder(64)
			path := builder.CreateString("a.cbz")
			fb.SnapshotStart(builder)
			fb.SnapshotAddVersion(builder, snapshotVersion+1)
			fb.SnapshotAddPath(builder, path)
			fb.FinishSnapshotBuffer(builder, fb.SnapshotEnd(builder))
			return s.encoder.EncodeAll(builder.FinishedBytes(), nil)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t)
			file := s.path("a.cbz")
			require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o700))
			require.NoError(t, os.WriteFile(file, tc.data(s), 0o600))

			_, found, err := s.Load(context.Background(), "a.cbz")
			require.ErrorIs(t, err, ErrCorrupt)
			assert.False(t, found)
		})
	}
}

func TestStoreMaxBytes(t *testing.T) {
	t.Parallel()

	sizer := newStore(t)
	require.NoError(t, sizer.Save(context.Background(), "sample", sampleSnapshot(200)))
	one := sizer.SizeBytes()

	s := newStore(t, WithMaxBytes(one*2+one/2), WithShardPrefixLen(0))
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Save(ctx, fmt.Sprintf("archive-%d", i), sampleSnapshot(200)))
	}
	assert.LessOrEqual(t, s.SizeBytes(), one*2+one/2)

	_, found, err := s.Load(ctx, "archive-4")
	require.NoError(t, err)
	assert.True(t, found, "newest snapshot survives")
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "a.cbz", sampleSnapshot(3)))
	require.NoError(t, s.Delete("a.cbz"))
	require.NoError(t, s.Delete("a.cbz"))
	assert.Zero(t, s.SizeBytes())

	_, found, err := s.Load(ctx, "a.cbz")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, first.Save(context.Background(), "a.cbz", sampleSnapshot(10)))
	size := first.SizeBytes()
	require.NoError(t, first.Close())

	second, err := New(dir)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, size, second.SizeBytes())
}

func TestStoreWithCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.WriteZip(t, dir, "book.cbz", []testutil.ZipEntry{
		testutil.Stored("ch01/001.jpg", []byte("page")),
	})
	store := newStore(t)
	ctx := context.Background()

	warm := indexcache.New(indexcache.WithStore(store))
	want, err := warm.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), warm.Stats().Parses)

	cold := indexcache.New(indexcache.WithStore(store))
	got, err := cold.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, indexcache.Stats{Misses: 1, StoreHits: 1}, cold.Stats())
}
