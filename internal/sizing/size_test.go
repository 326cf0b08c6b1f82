package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestInBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		off    uint64
		length uint64
		size   int64
		want   bool
	}{
		{name: "inside", off: 10, length: 10, size: 100, want: true},
		{name: "ends at size", off: 90, length: 10, size: 100, want: true},
		{name: "empty at end", off: 100, length: 0, size: 100, want: true},
		{name: "past end", off: 91, length: 10, size: 100, want: false},
		{name: "offset past end", off: 101, length: 0, size: 100, want: false},
		{name: "wraps", off: math.MaxUint64, length: 2, size: 100, want: false},
		{name: "negative size", off: 0, length: 0, size: -1, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, InBounds(tc.off, tc.length, tc.size))
		})
	}
}

func TestConversions(t *testing.T) {
	t.Parallel()

	n, err := ToInt64(42, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = ToInt64(math.MaxUint64, errOverflow)
	assert.ErrorIs(t, err, errOverflow)

	_, err = ToInt(math.MaxUint64, errOverflow)
	assert.ErrorIs(t, err, errOverflow)

	_, ok := AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("x"), 1000)

	t.Run("within limit", func(t *testing.T) {
		t.Parallel()
		got, err := ReadAllWithLimit(bytes.NewReader(data), 10, 1000, errOverflow)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("over limit", func(t *testing.T) {
		t.Parallel()
		_, err := ReadAllWithLimit(bytes.NewReader(data), 1000, 999, errOverflow)
		assert.ErrorIs(t, err, errOverflow)
	})

	t.Run("unlimited", func(t *testing.T) {
		t.Parallel()
		got, err := ReadAllWithLimit(bytes.NewReader(data), 0, 0, errOverflow)
		require.NoError(t, err)
		assert.Len(t, got, len(data))
	})
}
