package folio

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive operations.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMaxEntrySize limits the compressed and uncompressed size of a single
// entry. Declared sizes come from the archive, so the limit bounds memory use
// when extracting untrusted input.
// Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(a *Archive) {
		a.maxEntrySize = limit
	}
}

// WithImagesOnly restricts the archive to entries with page image extensions.
func WithImagesOnly(enabled bool) Option {
	return func(a *Archive) {
		a.imagesOnly = enabled
	}
}
