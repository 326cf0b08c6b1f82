package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meigma/folio"
	folhttp "github.com/meigma/folio/http"
	"github.com/meigma/folio/indexcache"
	"github.com/meigma/folio/indexcache/disk"
)

func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// newIndexCache returns an index cache backed by the configured snapshot
// directory, if any. The returned func releases the store.
func newIndexCache() (*indexcache.Cache, func(), error) {
	opts := []indexcache.Option{indexcache.WithLogger(slog.Default())}
	closeFn := func() {}
	if cfg.CacheDir != "" {
		store, err := disk.New(cfg.CacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open index store: %w", err)
		}
		opts = append(opts, indexcache.WithStore(store))
		closeFn = func() {
			if err := store.Close(); err != nil {
				slog.Warn("close index store", "error", err)
			}
		}
	}
	return indexcache.New(opts...), closeFn, nil
}

func archiveOptions(extra ...folio.Option) []folio.Option {
	opts := []folio.Option{
		folio.WithLogger(slog.Default()),
		folio.WithMaxEntrySize(cfg.MaxEntrySize),
	}
	return append(opts, extra...)
}

// openArchive opens a local archive through the index cache, or a remote one
// over HTTP range requests.
func openArchive(ctx context.Context, target string, extra ...folio.Option) (*folio.Archive, func(), error) {
	if isURL(target) {
		src, err := folhttp.NewSource(ctx, target, folhttp.WithConditionalHeaders())
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("opened remote archive", "url", target, "size", src.Size(), "id", src.ID())
		archive, err := folio.Open(ctx, src, archiveOptions(extra...)...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", target, err)
		}
		return archive, func() {}, nil
	}

	cache, closeCache, err := newIndexCache()
	if err != nil {
		return nil, nil, err
	}
	entries, err := cache.Get(ctx, target)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	src, err := folio.OpenFile(target)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	archive := folio.FromEntries(src, entries, archiveOptions(extra...)...)
	return archive, func() {
		_ = src.Close()
		closeCache()
	}, nil
}
