package folio

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/folio/chapter"
	"github.com/meigma/folio/internal/extract"
	"github.com/meigma/folio/internal/index"
)

// DefaultMaxEntrySize is the default per-entry size limit (256 MiB).
const DefaultMaxEntrySize = extract.DefaultMaxEntrySize

var defaultExtractor = extract.New()

// Index reads the Central Directory of the archive in src.
//
// Entries are returned in directory order; directory entries are omitted.
// Only the archive tail, the ZIP64 records when present, and the Central
// Directory are read.
func Index(ctx context.Context, src ByteSource) ([]Entry, error) {
	return index.Read(ctx, src)
}

// Extract returns the verified content of entry using the default size limit.
func Extract(ctx context.Context, src ByteSource, entry *Entry) ([]byte, error) {
	return defaultExtractor.Extract(ctx, src, entry)
}

// Archive provides random access to the entries of one archive snapshot.
//
// An Archive is safe for concurrent use. It does not own its source; callers
// close the source after they are done with the Archive.
type Archive struct {
	src        ByteSource
	entries    []Entry
	byName     map[string]int
	extractor  *extract.Extractor
	readGroup  singleflight.Group // zero value is valid
	logger     *slog.Logger
	imagesOnly bool

	maxEntrySize uint64
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open indexes src and returns an Archive over it.
func Open(ctx context.Context, src ByteSource, opts ...Option) (*Archive, error) {
	start := time.Now()
	entries, err := index.Read(ctx, src)
	if err != nil {
		return nil, err
	}
	a := newArchive(src, entries, opts)
	a.log().Debug("indexed archive",
		"entries", len(entries),
		"size", src.Size(),
		"duration", time.Since(start))
	return a, nil
}

// FromEntries returns an Archive over src using a previously read index, such
// as one returned by an index cache. entries must describe src.
func FromEntries(src ByteSource, entries []Entry, opts ...Option) *Archive {
	return newArchive(src, entries, opts)
}

func newArchive(src ByteSource, entries []Entry, opts []Option) *Archive {
	a := &Archive{
		src:          src,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.extractor = extract.New(extract.WithMaxEntrySize(a.maxEntrySize))

	if a.imagesOnly {
		filtered := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if IsImage(e.Name) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	a.entries = entries

	a.byName = make(map[string]int, len(entries))
	for i := range entries {
		if _, dup := a.byName[entries[i].Name]; !dup {
			a.byName[entries[i].Name] = i
		}
	}
	return a
}

// Entries returns the archive entries in directory order.
// The returned slice must not be modified.
func (a *Archive) Entries() []Entry {
	return a.entries
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Lookup returns the first entry with the given name.
func (a *Archive) Lookup(name string) (Entry, bool) {
	i, ok := a.byName[name]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// Extract returns the verified content of entry.
func (a *Archive) Extract(ctx context.Context, entry *Entry) ([]byte, error) {
	content, err := a.extractor.Extract(ctx, a.src, entry)
	if err != nil {
		a.log().Debug("extract failed", "name", entry.Name, "error", err)
		return nil, err
	}
	return content, nil
}

// ReadFile returns the verified content of the named entry.
//
// Concurrent calls for the same name share one extraction and receive the
// same slice, which must not be modified. Cancelling ctx abandons the wait
// without failing the other callers.
func (a *Archive) ReadFile(ctx context.Context, name string) ([]byte, error) {
	entry, ok := a.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}

	// The shared extraction outlives any single caller; each caller stops
	// waiting when its own context ends.
	work := context.WithoutCancel(ctx)
	ch := a.readGroup.DoChan(name, func() (any, error) {
		return a.Extract(work, &entry)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("readfile %s: %w", name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("readfile %s: %w", name, res.Err)
		}
		if res.Shared {
			a.log().Debug("readfile shared", "name", name)
		}
		return res.Val.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
	}
}

// Chapters groups the page images of the archive below their common root
// directory. Entries that are not images are left out. Chapters are in order
// of first appearance; see chapter.SortByName.
func (a *Archive) Chapters(opts ...chapter.Option) []chapter.Chapter {
	pages := a.entries
	if !a.imagesOnly {
		pages = make([]Entry, 0, len(a.entries))
		for _, e := range a.entries {
			if IsImage(e.Name) {
				pages = append(pages, e)
			}
		}
	}
	return chapter.Split(pages, opts...)
}
