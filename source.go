package folio

import (
	"bytes"
	"fmt"
	"os"
	"time"
)

// BytesSource is a ByteSource over an in-memory archive.
type BytesSource struct {
	r *bytes.Reader
}

// NewBytesSource returns a source reading from data. data must not be
// modified while the source is in use.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{r: bytes.NewReader(data)}
}

// ReadAt implements io.ReaderAt.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// Size returns the archive length.
func (s *BytesSource) Size() int64 {
	return s.r.Size()
}

// FileSource is a ByteSource over an open file.
//
// The size and modification time are captured when the source is created.
// Concurrent reads use positional I/O and do not share a file offset.
type FileSource struct {
	f       *os.File
	size    int64
	modTime time.Time
}

// OpenFile opens the archive at path.
// The caller must Close the returned source.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path) //nolint:gosec // caller-provided archive path
	if err != nil {
		return nil, err
	}
	src, err := NewFileSource(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// NewFileSource wraps an already open file. Closing the source closes f.
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", f.Name())
	}
	return &FileSource{f: f, size: info.Size(), modTime: info.ModTime()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file size observed when the source was opened.
func (s *FileSource) Size() int64 {
	return s.size
}

// ModTime returns the modification time observed when the source was opened.
func (s *FileSource) ModTime() time.Time {
	return s.modTime
}

// Name returns the file name.
func (s *FileSource) Name() string {
	return s.f.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}
