// Package batch extracts many archive entries to a sink with bounded
// parallelism.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/folio/internal/extract"
	"github.com/meigma/folio/internal/ziptype"
)

// Entry is an archive entry.
type Entry = ziptype.Entry

// Sink receives extracted entries.
type Sink interface {
	// ShouldProcess reports whether entry needs to be extracted.
	ShouldProcess(entry *Entry) bool

	// Writer returns a destination for entry's content.
	Writer(entry *Entry) (Committer, error)
}

// Committer is a destination that is published by Commit or dropped by Discard.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// ProgressFunc is called after each entry is committed.
type ProgressFunc func(entry *Entry, written int)

// Processor extracts entries from one archive source.
type Processor struct {
	source    ziptype.ByteSource
	extractor *extract.Extractor
	workers   int // 0 = GOMAXPROCS, <0 = serial, >0 = fixed count
	progress  ProgressFunc
	logger    *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of concurrent extractions.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithProgress sets a callback invoked after each committed entry.
// The callback may be called from multiple goroutines.
func WithProgress(fn ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// WithProcessorLogger sets the logger for batch operations.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a batch processor reading from source.
func NewProcessor(source ziptype.ByteSource, extractor *extract.Extractor, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:    source,
		extractor: extractor,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Process extracts entries and writes them to sink.
//
// Entries rejected by sink.ShouldProcess are skipped. Processing stops on the
// first error; entries already committed stay in place.
func (p *Processor) Process(ctx context.Context, entries []Entry, sink Sink) error {
	toProcess := make([]*Entry, 0, len(entries))
	for i := range entries {
		if sink.ShouldProcess(&entries[i]) {
			toProcess = append(toProcess, &entries[i])
		}
	}
	if skipped := len(entries) - len(toProcess); skipped > 0 {
		p.logger.Debug("skipping entries", "count", skipped)
	}
	if len(toProcess) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount(len(toProcess)))
	for _, entry := range toProcess {
		g.Go(func() error {
			return p.processEntry(ctx, entry, sink)
		})
	}
	return g.Wait()
}

// processEntry extracts, verifies, and commits a single entry.
func (p *Processor) processEntry(ctx context.Context, entry *Entry, sink Sink) error {
	content, err := p.extractor.Extract(ctx, p.source, entry)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	w, err := sink.Writer(entry)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", entry.Name, err)
	}

	if p.progress != nil {
		p.progress(entry, len(content))
	}
	return nil
}

// workerCount determines the number of concurrent extractions.
func (p *Processor) workerCount(n int) int {
	if p.workers < 0 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(min(workers, n), 1)
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
