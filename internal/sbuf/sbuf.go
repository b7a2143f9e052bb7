// Package sbuf provides the page buffer that travels through the scanning
// pipeline: an owned byte region tagged with its provenance position.
package sbuf

import (
	"github.com/scanlab/bulkscan/internal/position"
)

// Buf is one unit of scannable data. The leading PageSize bytes are the
// logical page; any bytes past that are margin, readable by scanners that
// need to look across a page boundary but never counted as coverage.
//
// A Buf is read-only once handed to the scanner set: scanners running
// concurrently on the same buffer share it without synchronization. Derived
// buffers (NewChild) keep a reference to their parent so the full ancestry
// stays reachable while any descendant is in flight.
type Buf struct {
	pos      position.Position
	data     []byte
	pagesize int
	parent   *Buf
}

// New creates a leaf page buffer. pagesize must not exceed len(data); the
// remainder of data is margin.
func New(pos position.Position, data []byte, pagesize int) *Buf {
	if pagesize > len(data) {
		pagesize = len(data)
	}
	return &Buf{pos: pos, data: data, pagesize: pagesize}
}

// NewChild creates a buffer derived from parent by the named decoder, with
// the decoded bytes starting off bytes into the parent. The whole child is
// logical page; derived buffers carry no margin.
func NewChild(parent *Buf, tag string, off uint64, data []byte) *Buf {
	return &Buf{
		pos:      parent.Pos().Shift(off).Tag(tag),
		data:     data,
		pagesize: len(data),
		parent:   parent,
	}
}

// Slice returns a view of up to n bytes starting off bytes into b. The
// view shares b's storage, shifts the position accordingly, and keeps b
// reachable as its parent. Scanners use it to split a decoded stream into
// pages.
func (b *Buf) Slice(off uint64, n int) *Buf {
	if off > uint64(len(b.data)) {
		off = uint64(len(b.data))
	}
	end := off + uint64(n)
	if end > uint64(len(b.data)) {
		end = uint64(len(b.data))
	}
	return &Buf{
		pos:      b.pos.Shift(off),
		data:     b.data[off:end],
		pagesize: int(end - off),
		parent:   b,
	}
}

// Pos returns the provenance position of the first byte.
func (b *Buf) Pos() position.Position { return b.pos }

// Bytes returns the full buffer including margin. Callers must not modify
// the returned slice.
func (b *Buf) Bytes() []byte { return b.data }

// Page returns the logical page without margin.
func (b *Buf) Page() []byte { return b.data[:b.pagesize] }

// PageSize reports the logical page length.
func (b *Buf) PageSize() int { return b.pagesize }

// BufSize reports the full buffer length including margin.
func (b *Buf) BufSize() int { return len(b.data) }

// Parent returns the buffer this one was decoded from, or nil for a leaf.
func (b *Buf) Parent() *Buf { return b.parent }

// Depth reports the number of decode steps above the raw image.
func (b *Buf) Depth() int { return b.pos.Depth() }
