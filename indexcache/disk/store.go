// Package disk provides a filesystem-backed indexcache.Store.
//
// Each snapshot is a zstd-compressed FlatBuffers document stored under the
// SHA-256 digest of the archive path.
package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/folio"
	"github.com/meigma/folio/indexcache"
	"github.com/meigma/folio/internal/fb"
)

const (
	snapshotVersion       = 1
	snapshotExt           = ".snap"
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultMaxSnapshot    = 64 << 20
)

// ErrCorrupt is returned when a stored snapshot cannot be decoded.
var ErrCorrupt = errors.New("disk: corrupt snapshot")

// Store implements indexcache.Store using the local filesystem.
// Store is safe for concurrent use.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64        // maximum total size (0 = unlimited)
	bytes          atomic.Int64 // current total size of snapshot files
	pruneMu        sync.Mutex   // serializes prune operations

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ indexcache.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of stored snapshots. The oldest
// snapshots are removed to make room. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// New creates a store rooted at dir, creating it if needed.
// The caller must Close the store.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("snapshot dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if s.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	s.bytes.Store(size)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(defaultMaxSnapshot),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	s.encoder = enc
	s.decoder = dec
	return s, nil
}

// Close releases the compression resources.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Load reads the snapshot for path.
func (s *Store) Load(ctx context.Context, path string) (indexcache.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return indexcache.Snapshot{}, false, err
	}
	file := s.path(path)
	compressed, err := os.ReadFile(file) //nolint:gosec // path is derived from a digest
	if errors.Is(err, os.ErrNotExist) {
		return indexcache.Snapshot{}, false, nil
	}
	if err != nil {
		return indexcache.Snapshot{}, false, err
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return indexcache.Snapshot{}, false, fmt.Errorf("%w: %s: %w", ErrCorrupt, file, err)
	}
	snap, storedPath, err := decode(data)
	if err != nil {
		return indexcache.Snapshot{}, false, fmt.Errorf("%s: %w", file, err)
	}
	if storedPath != path {
		// Digest collision.
		return indexcache.Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Save writes the snapshot for path, replacing any previous one.
func (s *Store) Save(ctx context.Context, path string, snap indexcache.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := s.encoder.EncodeAll(encode(path, snap), nil)

	file := s.path(path)
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}

	var previous int64
	if info, err := os.Stat(file); err == nil {
		previous = info.Size()
	}

	written := int64(len(data))
	if ok, err := s.ensureCapacity(written - previous); err != nil {
		return err
	} else if !ok {
		return nil
	}

	tmp, err := os.CreateTemp(dir, "snap-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, file); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	s.bytes.Add(written - previous)
	return nil
}

// Delete removes the snapshot for path.
func (s *Store) Delete(path string) error {
	file := s.path(path)
	info, err := os.Stat(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.bytes.Add(-info.Size())
	return nil
}

// SizeBytes returns the current total size of stored snapshots.
func (s *Store) SizeBytes() int64 {
	return s.bytes.Load()
}

// Prune removes the oldest snapshots until the store is at or below targetBytes.
func (s *Store) Prune(targetBytes int64) (int64, error) {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	freed, remaining, err := pruneDir(s.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	s.bytes.Store(remaining)
	return freed, nil
}

func (s *Store) ensureCapacity(need int64) (bool, error) {
	if s.maxBytes <= 0 || need <= 0 {
		return true, nil
	}
	if need > s.maxBytes {
		return false, nil
	}
	if s.SizeBytes()+need <= s.maxBytes {
		return true, nil
	}
	if _, err := s.Prune(s.maxBytes - need); err != nil {
		return false, err
	}
	return s.SizeBytes()+need <= s.maxBytes, nil
}

func (s *Store) path(archivePath string) string {
	hexHash := digest.FromString(archivePath).Encoded()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, hexHash+snapshotExt)
	}
	prefixLen := min(s.shardPrefixLen, len(hexHash))
	return filepath.Join(s.dir, hexHash[:prefixLen], hexHash+snapshotExt)
}

// encode serializes a snapshot as a FlatBuffers document.
func encode(path string, snap indexcache.Snapshot) []byte {
	builder := flatbuffers.NewBuilder(1024 + 64*len(snap.Entries))

	// Build entries in reverse order (FlatBuffers requirement)
	offsets := make([]flatbuffers.UOffsetT, len(snap.Entries))
	for i := len(snap.Entries) - 1; i >= 0; i-- {
		e := &snap.Entries[i]
		name := builder.CreateString(e.Name)
		fb.EntryStart(builder)
		fb.EntryAddName(builder, name)
		fb.EntryAddCompressedSize(builder, e.CompressedSize)
		fb.EntryAddUncompressedSize(builder, e.UncompressedSize)
		fb.EntryAddMethod(builder, uint16(e.Method))
		fb.EntryAddLocalHeaderOffset(builder, e.LocalHeaderOffset)
		fb.EntryAddCrc32(builder, e.CRC32)
		offsets[i] = fb.EntryEnd(builder)
	}

	fb.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entries := builder.EndVector(len(offsets))

	pathOffset := builder.CreateString(path)
	fb.SnapshotStart(builder)
	fb.SnapshotAddVersion(builder, snapshotVersion)
	fb.SnapshotAddPath(builder, pathOffset)
	fb.SnapshotAddModTimeNs(builder, snap.ModTime.UnixNano())
	fb.SnapshotAddEntries(builder, entries)
	fb.FinishSnapshotBuffer(builder, fb.SnapshotEnd(builder))
	return builder.FinishedBytes()
}

// decode parses a FlatBuffers snapshot. FlatBuffers accessors panic on
// malformed input, so panics are converted to ErrCorrupt.
func decode(data []byte) (snap indexcache.Snapshot, path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, path = indexcache.Snapshot{}, ""
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return indexcache.Snapshot{}, "", fmt.Errorf("%w: short buffer", ErrCorrupt)
	}

	root := fb.GetRootAsSnapshot(data, 0)
	if v := root.Version(); v != snapshotVersion {
		return indexcache.Snapshot{}, "", fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	n := root.EntriesLength()
	entries := make([]folio.Entry, n)
	var fe fb.Entry
	for i := range n {
		if !root.Entries(&fe, i) {
			return indexcache.Snapshot{}, "", fmt.Errorf("%w: missing entry %d", ErrCorrupt, i)
		}
		entries[i] = folio.Entry{
			Name:              string(fe.Name()),
			CompressedSize:    fe.CompressedSize(),
			UncompressedSize:  fe.UncompressedSize(),
			Method:            folio.Method(fe.Method()),
			LocalHeaderOffset: fe.LocalHeaderOffset(),
			CRC32:             fe.Crc32(),
		}
	}

	return indexcache.Snapshot{
		ModTime: time.Unix(0, root.ModTimeNs()),
		Entries: entries,
	}, string(root.Path()), nil
}
