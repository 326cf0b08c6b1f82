// Package library serves a directory of comics as titles, chapters, and pages.
//
// A library root contains titles. A title is either an archive (.zip or .cbz)
// or a directory of images, optionally split into one subdirectory per
// chapter. Archive indexes are read through an indexcache.Cache so repeated
// listings of an unchanged archive never re-parse it.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/folio"
	"github.com/meigma/folio/chapter"
	"github.com/meigma/folio/indexcache"
)

var (
	// ErrNotFound is returned when a title, chapter, or page does not exist.
	ErrNotFound = errors.New("library: not found")

	// ErrInvalidPath is returned when a name or page path escapes the library root.
	ErrInvalidPath = errors.New("library: invalid path")
)

var archiveExt = regexp.MustCompile(`(?i)\.(zip|cbz)$`)

// Kind distinguishes archive titles from directory titles.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindArchive   Kind = "archive"
)

// Item is a title in the library listing.
type Item struct {
	// Name is the display name: the file name with any archive extension removed.
	Name string
	// Slug is the URL path escape of the on-disk file name.
	Slug string
	Kind Kind
}

// Summary describes one chapter of a title.
type Summary struct {
	Name      string
	Slug      string
	PageCount int
	// Pages are archive entry names or, for directory titles, paths
	// relative to the title directory.
	Pages []string
}

// Page is the content of one page image.
type Page struct {
	Data        []byte
	ContentType string
}

// Library reads titles below a root directory.
// Library is safe for concurrent use.
type Library struct {
	root         string
	cache        *indexcache.Cache
	logger       *slog.Logger
	maxEntrySize uint64
	pages        singleflight.Group
}

// Option configures a Library.
type Option func(*Library)

// WithIndexCache sets the cache used for archive indexes. By default each
// Library has its own in-memory cache.
func WithIndexCache(cache *indexcache.Cache) Option {
	return func(l *Library) {
		l.cache = cache
	}
}

// WithLogger sets the logger for library operations.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// WithMaxEntrySize limits the size of a single page read from an archive.
// Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(l *Library) {
		l.maxEntrySize = limit
	}
}

// New creates a Library rooted at root, which must be an existing directory.
func New(root string, opts ...Option) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("library root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s: not a directory", abs)
	}

	l := &Library{
		root:         abs,
		maxEntrySize: folio.DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.cache == nil {
		l.cache = indexcache.New(indexcache.WithLogger(l.logger))
	}
	return l, nil
}

// Root returns the absolute library root.
func (l *Library) Root() string {
	return l.root
}

// Slug returns the URL-safe form of a title or chapter name.
func Slug(name string) string {
	return url.PathEscape(name)
}

// ParseSlug reverses Slug.
func ParseSlug(slug string) (string, error) {
	name, err := url.PathUnescape(slug)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	return name, nil
}

// List returns the titles directly below the root, ordered by display name.
// Hidden entries and files that are not archives are skipped.
func (l *Library) List(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}

	items := make([]Item, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case d.IsDir():
			items = append(items, Item{Name: name, Slug: Slug(name), Kind: KindDirectory})
		case d.Type().IsRegular() && archiveExt.MatchString(name):
			items = append(items, Item{
				Name: archiveExt.ReplaceAllString(name, ""),
				Slug: Slug(name),
				Kind: KindArchive,
			})
		}
	}
	slices.SortStableFunc(items, func(a, b Item) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

// Chapters returns the chapters of the named title in display order.
//
// name is the on-disk file or directory name below the root. Archive titles
// are grouped by directory layout; directory titles use one chapter per
// subdirectory containing images, or a single unnamed chapter when the
// images sit directly in the title directory.
func (l *Library) Chapters(ctx context.Context, name string) ([]Summary, error) {
	full, info, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	switch {
	case info.IsDir():
		return l.directoryChapters(ctx, full)
	case archiveExt.MatchString(name):
		return l.archiveChapters(ctx, full)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
}

// Page returns one page image of the named title.
//
// For archive titles page is the entry name; for directory titles it is the
// slash-separated path below the title directory.
func (l *Library) Page(ctx context.Context, name, page string) (Page, error) {
	full, info, err := l.resolve(name)
	if err != nil {
		return Page{}, err
	}

	var data []byte
	switch {
	case info.IsDir():
		data, err = l.directoryPage(ctx, full, page)
	case archiveExt.MatchString(name):
		data, err = l.archivePage(ctx, full, page)
	default:
		err = fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Page{}, err
	}
	return Page{Data: data, ContentType: ContentType(page)}, nil
}

// resolve maps a title name to its absolute path, rejecting names that
// leave the root.
func (l *Library) resolve(name string) (string, fs.FileInfo, error) {
	if !validRelPath(name) {
		return "", nil, fmt.Errorf("%q: %w", name, ErrInvalidPath)
	}
	full := filepath.Join(l.root, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", nil, err
	}
	return full, info, nil
}

// validRelPath reports whether p is a clean relative slash path below the
// root. Hidden elements are rejected along with traversal.
func validRelPath(p string) bool {
	if p == "" || p == "." || strings.Contains(p, `\`) || !fs.ValidPath(p) {
		return false
	}
	for elem := range strings.SplitSeq(p, "/") {
		if strings.HasPrefix(elem, ".") {
			return false
		}
	}
	return true
}

func (l *Library) archiveChapters(ctx context.Context, full string) ([]Summary, error) {
	entries, err := l.cache.Get(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", filepath.Base(full), err)
	}

	images := make([]folio.Entry, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if folio.IsImage(e.Name) {
			images = append(images, e)
			names = append(names, e.Name)
		}
	}

	depth, _, _ := chapter.DetectDepth(names)
	chapters := chapter.Group(images, depth, chapter.CollapseRepeated())
	chapter.SortByName(chapters)

	summaries := make([]Summary, len(chapters))
	for i, ch := range chapters {
		pages := make([]string, len(ch.Entries))
		for j := range ch.Entries {
			pages[j] = ch.Entries[j].Name
		}
		summaries[i] = Summary{Name: ch.Name, Slug: Slug(ch.Name), PageCount: len(pages), Pages: pages}
	}
	return summaries, nil
}

func (l *Library) directoryChapters(ctx context.Context, full string) ([]Summary, error) {
	dirents, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	var subdirs, images []string
	for _, d := range dirents {
		name := d.Name()
		switch {
		case d.IsDir() && !strings.HasPrefix(name, "."):
			subdirs = append(subdirs, name)
		case d.Type().IsRegular() && folio.IsImage(name):
			images = append(images, name)
		}
	}

	if len(subdirs) == 0 {
		if len(images) == 0 {
			return []Summary{}, nil
		}
		slices.Sort(images)
		return []Summary{{PageCount: len(images), Pages: images}}, nil
	}

	summaries := make([]Summary, 0, len(subdirs))
	for _, sub := range subdirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := imagesIn(filepath.Join(full, sub))
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			continue
		}
		for i := range pages {
			pages[i] = path.Join(sub, pages[i])
		}
		summaries = append(summaries, Summary{Name: sub, Slug: Slug(sub), PageCount: len(pages), Pages: pages})
	}
	slices.SortStableFunc(summaries, func(a, b Summary) int {
		return strings.Compare(a.Name, b.Name)
	})
	return summaries, nil
}

// imagesIn returns the sorted image file names in dir.
func imagesIn(dir string) ([]string, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var images []string
	for _, d := range dirents {
		if d.Type().IsRegular() && folio.IsImage(d.Name()) {
			images = append(images, d.Name())
		}
	}
	slices.Sort(images)
	return images, nil
}

func (l *Library) directoryPage(ctx context.Context, full, page string) ([]byte, error) {
	if !validRelPath(page) {
		return nil, fmt.Errorf("%q: %w", page, ErrInvalidPath)
	}
	if !folio.IsImage(page) {
		return nil, fmt.Errorf("%s: %w", page, ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(full, filepath.FromSlash(page)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", page, ErrNotFound)
	}
	return data, err
}

// archivePage extracts one entry. Concurrent requests for the same page
// share a single extraction, which is not tied to any one request's
// cancellation.
func (l *Library) archivePage(ctx context.Context, full, page string) ([]byte, error) {
	key := full + "\x00" + page
	work := context.WithoutCancel(ctx)
	ch := l.pages.DoChan(key, func() (any, error) {
		return l.extractPage(work, full, page)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			l.logger.Debug("page read shared", "archive", full, "page", page)
		}
		return res.Val.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
	}
}

func (l *Library) extractPage(ctx context.Context, full, page string) ([]byte, error) {
	entries, err := l.cache.Get(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", filepath.Base(full), err)
	}

	src, err := folio.OpenFile(full)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	archive := folio.FromEntries(src, entries,
		folio.WithLogger(l.logger),
		folio.WithMaxEntrySize(l.maxEntrySize),
	)
	data, err := archive.ReadFile(ctx, page)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", page, ErrNotFound)
	}
	return data, err
}
