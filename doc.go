//go:generate flatc --go --go-namespace fb -o internal schema/snapshot.fbs

// Package folio provides random access to the pages of ZIP and CBZ archives.
//
// An archive is read through a [ByteSource]: only the tail, the optional
// ZIP64 records, and the Central Directory are fetched to build the index,
// and each entry is extracted on demand with its CRC-32 verified. This makes
// the same code path efficient for in-memory archives, local files, and
// remote archives served with HTTP range requests.
//
// # Quick Start
//
// Index a file and read a page:
//
//	src, err := folio.OpenFile("volume-01.cbz")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	archive, err := folio.Open(ctx, src, folio.WithImagesOnly(true))
//	if err != nil {
//	    return err
//	}
//	for _, ch := range archive.Chapters() {
//	    fmt.Println(ch.Name, len(ch.Entries))
//	}
//	page, err := archive.ReadFile(ctx, "vol1/ch01/001.jpg")
//
// The lower-level [Index] and [Extract] functions operate on a source and an
// entry directly and hold no state between calls.
//
// # Errors
//
// Structural problems are reported as [ErrFormat]; failed checksums as
// [ErrIntegrity] with a [*ChecksumError] in the chain. Read failures from the
// source are returned wrapped and match neither.
package folio
