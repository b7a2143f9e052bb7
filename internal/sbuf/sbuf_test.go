package sbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanlab/bulkscan/internal/position"
)

func TestPageAndMargin(t *testing.T) {
	data := []byte("0123456789abcdef")
	b := New(position.New(4096), data, 10)

	assert.Equal(t, 10, b.PageSize())
	assert.Equal(t, 16, b.BufSize())
	assert.Equal(t, []byte("0123456789"), b.Page())
	assert.Equal(t, data, b.Bytes())
	assert.Equal(t, "4096", b.Pos().String())
	assert.Nil(t, b.Parent())
	assert.Equal(t, 0, b.Depth())
}

func TestPagesizeClamped(t *testing.T) {
	b := New(position.New(0), []byte("abc"), 4096)
	assert.Equal(t, 3, b.PageSize())
}

func TestNewChild(t *testing.T) {
	parent := New(position.New(8192), []byte("compressed-bytes"), 16)
	child := NewChild(parent, "GZIP", 3, []byte("inflated payload"))

	require.Equal(t, "8195-GZIP-0", child.Pos().String())
	assert.True(t, child.Pos().HasPrefix(parent.Pos().Shift(3)))
	assert.Equal(t, parent, child.Parent())
	assert.Equal(t, 1, child.Depth())

	// Derived buffers are all page, no margin.
	assert.Equal(t, child.BufSize(), child.PageSize())

	grandchild := NewChild(child, "ZLIB", 0, []byte("deeper"))
	assert.Equal(t, "8195-GZIP-0-ZLIB-0", grandchild.Pos().String())
	assert.Equal(t, 2, grandchild.Depth())
}

func TestSlice(t *testing.T) {
	parent := New(position.New(0), []byte("compressed"), 10)
	child := NewChild(parent, "GZIP", 0, []byte("0123456789abcdef"))

	s := child.Slice(4, 8)
	assert.Equal(t, "0-GZIP-4", s.Pos().String())
	assert.Equal(t, []byte("456789ab"), s.Page())
	assert.Equal(t, child, s.Parent())
	assert.Equal(t, 1, s.Depth(), "slicing adds no decode step")

	// Slices clamp at the end of the buffer.
	tail := child.Slice(12, 100)
	assert.Equal(t, []byte("cdef"), tail.Page())
	empty := child.Slice(100, 4)
	assert.Equal(t, 0, empty.BufSize())
}
