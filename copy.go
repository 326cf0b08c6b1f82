package folio

import (
	"context"

	"github.com/meigma/folio/internal/batch"
)

// CopyOption configures CopyTo and CopyAll.
type CopyOption func(*copyConfig)

type copyConfig struct {
	overwrite bool
	workers   int
	progress  func(entry *Entry, written int)
}

// CopyWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func CopyWithOverwrite(overwrite bool) CopyOption {
	return func(c *copyConfig) {
		c.overwrite = overwrite
	}
}

// CopyWithWorkers sets the number of concurrent extractions.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func CopyWithWorkers(n int) CopyOption {
	return func(c *copyConfig) {
		c.workers = n
	}
}

// CopyWithProgress sets a callback invoked after each file is written.
// The callback may be called concurrently.
func CopyWithProgress(fn func(entry *Entry, written int)) CopyOption {
	return func(c *copyConfig) {
		c.progress = fn
	}
}

// CopyTo extracts the named entries to destDir.
//
// Files are written atomically using temp files and renames, and parent
// directories are created as needed. Names that are not in the archive are
// ignored; names that would escape destDir fail the copy.
func (a *Archive) CopyTo(ctx context.Context, destDir string, names []string, opts ...CopyOption) error {
	entries := a.resolve(names)
	for _, name := range names {
		if _, ok := a.Lookup(name); !ok {
			a.log().Debug("copy skipping missing entry", "name", name)
		}
	}
	return a.copyEntries(ctx, destDir, entries, opts)
}

// CopyAll extracts every entry to destDir. See CopyTo.
func (a *Archive) CopyAll(ctx context.Context, destDir string, opts ...CopyOption) error {
	return a.copyEntries(ctx, destDir, a.entries, opts)
}

// CountPending reports how many entries a copy to destDir would write with
// opts: names found in the archive whose destination does not exist yet, or
// all of them with CopyWithOverwrite. A nil names counts every entry, as
// CopyAll would.
func (a *Archive) CountPending(destDir string, names []string, opts ...CopyOption) int {
	entries := a.entries
	if names != nil {
		entries = a.resolve(names)
	}
	cfg := newCopyConfig(opts)
	sink := cfg.sink(destDir)

	n := 0
	for i := range entries {
		if sink.ShouldProcess(&entries[i]) {
			n++
		}
	}
	return n
}

func (a *Archive) resolve(names []string) []Entry {
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		if entry, ok := a.Lookup(name); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func newCopyConfig(opts []CopyOption) copyConfig {
	cfg := copyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *copyConfig) sink(destDir string) *batch.FileSink {
	return batch.NewFileSink(destDir, batch.WithOverwrite(c.overwrite))
}

// copyEntries uses the batch processor to copy entries to destDir.
func (a *Archive) copyEntries(ctx context.Context, destDir string, entries []Entry, opts []CopyOption) error {
	if len(entries) == 0 {
		return nil
	}
	cfg := newCopyConfig(opts)
	sink := cfg.sink(destDir)

	procOpts := []batch.ProcessorOption{
		batch.WithWorkers(cfg.workers),
		batch.WithProcessorLogger(a.log()),
	}
	if cfg.progress != nil {
		procOpts = append(procOpts, batch.WithProgress(cfg.progress))
	}
	return batch.NewProcessor(a.src, a.extractor, procOpts...).Process(ctx, entries, sink)
}
