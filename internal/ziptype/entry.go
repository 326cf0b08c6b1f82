// Package ziptype defines the types shared by the archive indexer, the entry
// extractor, and the public folio package. This avoids circular imports between
// folio and its internal packages.
package ziptype

import "strings"

// Entry describes one file in a ZIP archive as recorded in its Central Directory.
//
// Entries are plain values. An indexing pass produces a fresh slice; nothing
// mutates an Entry after it has been returned.
type Entry struct {
	// Name is the slash-separated path inside the archive (e.g., "vol1/ch01/001.png").
	// The format does not guarantee uniqueness.
	Name string

	// CompressedSize is the size of the stored payload in bytes.
	CompressedSize uint64

	// UncompressedSize is the size of the decompressed content in bytes.
	UncompressedSize uint64

	// Method is the compression method of the payload.
	Method Method

	// LocalHeaderOffset is the absolute offset of the entry's Local File Header.
	LocalHeaderOffset uint64

	// CRC32 is the IEEE CRC-32 of the uncompressed content. Zero disables verification.
	CRC32 uint32
}

// IsDir reports whether the name denotes a directory entry.
func IsDir(name string) bool {
	return strings.HasSuffix(name, "/")
}
