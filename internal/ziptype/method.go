package ziptype

import "strconv"

// Method identifies the compression method of an entry.
type Method uint16

const (
	// MethodStore marks an entry stored without compression.
	MethodStore Method = 0

	// MethodDeflate marks an entry compressed with raw DEFLATE.
	MethodDeflate Method = 8
)

// Supported reports whether the extractor can decode the method.
func (m Method) Supported() bool {
	return m == MethodStore || m == MethodDeflate
}

// String returns the human-readable name of the method.
func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	default:
		return "method(" + strconv.Itoa(int(m)) + ")"
	}
}
