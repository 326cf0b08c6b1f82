package main

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateLeft(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "001.jpg", n: 10, want: "001.jpg"},
		{name: "exact", in: "0123456789", n: 10, want: "0123456789"},
		{name: "ascii", in: "Book/ch01/001.jpg", n: 10, want: "../001.jpg"},
		{name: "multibyte", in: "本/第一章/ページ一.jpg", n: 8, want: "..ジ一.jpg"},
		{name: "tiny width", in: "ページ", n: 2, want: "ージ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := truncateLeft(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, utf8.RuneCountInString(got), tt.n)
		})
	}
}
