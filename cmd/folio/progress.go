package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

const descLength = 24

// progress is a single extraction progress bar on stderr. It is a no-op when
// disabled or when stderr is not a terminal. Increment may be called
// concurrently.
type progress struct {
	container   *mpb.Progress
	bar         *mpb.Bar
	description atomic.Value // string
}

func newProgress(total int, enabled bool) *progress {
	p := &progress{}
	p.description.Store("")
	if !enabled || total == 0 || !isTerminal() {
		return p
	}

	fmt.Fprintln(os.Stderr)
	p.container = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithWidth(64),
		mpb.WithRefreshRate(100*time.Millisecond),
	)
	p.bar = p.container.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				return truncateLeft(p.description.Load().(string), descLength) //nolint:errcheck // always a string
			}, decor.WC{W: descLength, C: decor.DindentRight}),
			decor.Name("  "),
			decor.CountersNoUnit("%d/%d", decor.WC{C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)
	return p
}

// Increment advances the bar by one and shows name as the current item.
func (p *progress) Increment(name string) {
	if p.bar == nil {
		return
	}
	p.description.Store(name)
	p.bar.Increment()
}

// Finish stops the bar, leaving it at its current position.
func (p *progress) Finish() {
	if p.container == nil {
		return
	}
	if !p.bar.Completed() {
		p.bar.Abort(false)
	}
	p.container.Wait()
	fmt.Fprintln(os.Stderr)
}

// truncateLeft shortens s to at most n runes, keeping its end and marking the
// cut with "..".
func truncateLeft(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 2 {
		return string(runes[len(runes)-n:])
	}
	return ".." + string(runes[len(runes)-n+2:])
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
