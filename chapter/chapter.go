// Package chapter groups archive entries into chapters by directory layout.
//
// Real-world archives arrive flat (pages at the top level), with one
// directory per chapter, or wrapped in one or more common root directories
// such as "Title/Vol 1/ch01/001.jpg". DetectDepth finds how many leading
// directories are shared by every entry, and Group buckets entries by the
// first directory below that root.
package chapter

import (
	"slices"
	"strings"

	"github.com/meigma/folio/internal/ziptype"
)

// Entry is an archive entry. It is the same type as folio.Entry.
type Entry = ziptype.Entry

// Chapter is a named, ordered run of entries.
type Chapter struct {
	// Name is the chapter directory name, or "" for entries that sit directly
	// under the common root.
	Name string

	// Entries are sorted by full path, byte-wise.
	Entries []Entry
}

// DetectDepth returns the number of leading path segments shared by every
// name.
//
// A segment only counts as shared while at least two more segments remain in
// the shortest name, so a chapter directory and a file name are always left
// below the root. root is the shared prefix of the first name joined by "/",
// and ok reports whether any segment was shared. Empty input yields
// (0, "", false).
func DetectDepth(names []string) (depth int, root string, ok bool) {
	if len(names) == 0 {
		return 0, "", false
	}

	split := make([][]string, len(names))
	minSegments := -1
	for i, name := range names {
		split[i] = strings.Split(name, "/")
		if minSegments < 0 || len(split[i]) < minSegments {
			minSegments = len(split[i])
		}
	}

	for i := 0; i < minSegments-2; i++ {
		want := split[0][i]
		if !allEqual(split, i, want) {
			break
		}
		depth = i + 1
	}

	if depth == 0 {
		return 0, "", false
	}
	return depth, strings.Join(split[0][:depth], "/"), true
}

func allEqual(split [][]string, i int, want string) bool {
	for _, segs := range split {
		if segs[i] != want {
			return false
		}
	}
	return true
}

type config struct {
	collapseRepeated bool
}

// Option configures Group.
type Option func(*config)

// CollapseRepeated skips a chapter segment that repeats the directory above
// it, as in "Title/Title/ch01/001.jpg", and groups by the next segment instead.
func CollapseRepeated() Option {
	return func(c *config) {
		c.collapseRepeated = true
	}
}

// Group buckets entries by the path segment at index depth.
//
// Entries with no directory below depth fall into the chapter named "".
// Chapters appear in order of first occurrence; use SortByName to order them
// for display. Every entry lands in exactly one chapter, duplicates included,
// and each chapter's entries are sorted by full path. The input is not
// modified.
func Group(entries []Entry, depth int, opts ...Option) []Chapter {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	depth = max(depth, 0)

	var chapters []Chapter
	slot := make(map[string]int)
	for _, e := range entries {
		key := chapterKey(e.Name, depth, cfg.collapseRepeated)
		i, ok := slot[key]
		if !ok {
			i = len(chapters)
			slot[key] = i
			chapters = append(chapters, Chapter{Name: key})
		}
		chapters[i].Entries = append(chapters[i].Entries, e)
	}

	for i := range chapters {
		slices.SortStableFunc(chapters[i].Entries, func(a, b Entry) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
	return chapters
}

func chapterKey(name string, depth int, collapse bool) string {
	segs := strings.Split(name, "/")
	if len(segs) <= depth+1 {
		return ""
	}
	key := segs[depth]
	if collapse && depth > 0 && key == segs[depth-1] && len(segs) > depth+2 {
		key = segs[depth+1]
	}
	return key
}

// Split detects the common root of entries and groups them below it.
func Split(entries []Entry, opts ...Option) []Chapter {
	names := make([]string, len(entries))
	for i := range entries {
		names[i] = entries[i].Name
	}
	depth, _, _ := DetectDepth(names)
	return Group(entries, depth, opts...)
}

// SortByName orders chapters by name, byte-wise. The unnamed chapter sorts first.
func SortByName(chapters []Chapter) {
	slices.SortStableFunc(chapters, func(a, b Chapter) int {
		return strings.Compare(a.Name, b.Name)
	})
}
