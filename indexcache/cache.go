// Package indexcache caches archive indexes keyed by file path and
// modification time.
//
// A cached index is reused for as long as the file's modification time is
// unchanged; any change triggers exactly one re-index on the next lookup.
// Lookups for the same path are serialized so concurrent callers never parse
// an archive twice, while different paths proceed independently. An optional
// Store persists indexes across processes.
//
// The cache has no eviction: it grows with the number of distinct paths
// looked up. Callers with unbounded path sets should use Invalidate or
// construct a new Cache periodically.
package indexcache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/folio"
)

// Snapshot is an index together with the modification time it describes.
type Snapshot struct {
	ModTime time.Time
	Entries []folio.Entry
}

// Store persists snapshots outside the process.
//
// Load reports found=false when no snapshot exists for path. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, path string) (snap Snapshot, found bool, err error)
	Save(ctx context.Context, path string, snap Snapshot) error
}

// Stats are cumulative cache counters.
type Stats struct {
	// Hits counts lookups answered from memory.
	Hits uint64
	// Misses counts lookups that were not answered from memory.
	Misses uint64
	// StoreHits counts misses answered by the Store without parsing.
	StoreHits uint64
	// Parses counts archive index parses.
	Parses uint64
}

// Cache maps archive paths to their parsed index.
// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	records map[string]Snapshot
	locks   sync.Map // path -> *sync.Mutex

	store  Store
	logger *slog.Logger

	hits      atomic.Uint64
	misses    atomic.Uint64
	storeHits atomic.Uint64
	parses    atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore adds a persistent second tier. Store failures are logged and
// otherwise ignored.
func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithLogger sets the logger for cache operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		records: make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Get returns the index of the archive at path.
//
// The file's modification time is compared with the cached record; on a
// mismatch or a miss the archive is indexed and the record replaced. The
// returned slice is shared and must not be modified.
func (c *Cache) Get(ctx context.Context, path string) ([]folio.Entry, error) {
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	modTime := info.ModTime()

	c.mu.RLock()
	rec, ok := c.records[path]
	c.mu.RUnlock()
	if ok && rec.ModTime.Equal(modTime) {
		c.hits.Add(1)
		c.logger.Debug("index cache hit", "path", path)
		return rec.Entries, nil
	}
	c.misses.Add(1)

	if entries, ok := c.loadFromStore(ctx, path, modTime); ok {
		return entries, nil
	}

	c.logger.Debug("index cache miss", "path", path, "stale", ok)
	entries, err := c.parse(ctx, path)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{ModTime: modTime, Entries: entries}
	c.put(path, snap)

	if c.store != nil {
		if err := c.store.Save(ctx, path, snap); err != nil {
			c.logger.Warn("index store save failed", "path", path, "error", err)
		}
	}
	return entries, nil
}

// loadFromStore answers a memory miss from the persistent tier.
func (c *Cache) loadFromStore(ctx context.Context, path string, modTime time.Time) ([]folio.Entry, bool) {
	if c.store == nil {
		return nil, false
	}
	snap, found, err := c.store.Load(ctx, path)
	if err != nil {
		c.logger.Warn("index store load failed", "path", path, "error", err)
		return nil, false
	}
	if !found || !snap.ModTime.Equal(modTime) {
		return nil, false
	}
	c.storeHits.Add(1)
	c.logger.Debug("index store hit", "path", path)
	c.put(path, snap)
	return snap.Entries, true
}

func (c *Cache) parse(ctx context.Context, path string) ([]folio.Entry, error) {
	src, err := folio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	c.parses.Add(1)
	start := time.Now()
	entries, err := folio.Index(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	c.logger.Debug("indexed archive",
		"path", path,
		"entries", len(entries),
		"duration", time.Since(start))
	return entries, nil
}

func (c *Cache) put(path string, snap Snapshot) {
	c.mu.Lock()
	c.records[path] = snap
	c.mu.Unlock()
}

func (c *Cache) lockFor(path string) *sync.Mutex {
	if l, ok := c.locks.Load(path); ok {
		return l.(*sync.Mutex) //nolint:errcheck // only *sync.Mutex is stored
	}
	l, _ := c.locks.LoadOrStore(path, &sync.Mutex{})
	return l.(*sync.Mutex) //nolint:errcheck // only *sync.Mutex is stored
}

// Invalidate drops the in-memory record for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.records, path)
	c.mu.Unlock()
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		StoreHits: c.storeHits.Load(),
		Parses:    c.parses.Load(),
	}
}
