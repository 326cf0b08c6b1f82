// Package index locates and parses the Central Directory of a ZIP archive.
//
// Only the archive tail, the optional ZIP64 records, and the Central Directory
// itself are read; entry payloads are never touched.
package index
