package folio

import (
	"regexp"

	"github.com/meigma/folio/internal/ziptype"
)

// Entry describes one file in an archive's Central Directory.
type Entry = ziptype.Entry

// Method identifies the compression method of an entry.
type Method = ziptype.Method

// Supported compression methods.
const (
	MethodStore   = ziptype.MethodStore
	MethodDeflate = ziptype.MethodDeflate
)

// ByteSource provides random access to archive bytes.
//
// Implementations must be safe for concurrent ReadAt calls.
type ByteSource = ziptype.ByteSource

var imageExt = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|avif|bmp)$`)

// IsImage reports whether name has a page image extension.
func IsImage(name string) bool {
	return imageExt.MatchString(name)
}
