package image

import (
	"fmt"
	"io"

	"github.com/scanlab/bulkscan/internal/position"
	"github.com/scanlab/bulkscan/internal/sbuf"
)

// Iterator is the file-backed Iter implementation. It carries no state
// beyond the current offset, so seeking is free and a fresh iterator can be
// taken from the image at any time.
type Iterator struct {
	img *Image
	off uint64
}

func (it *Iterator) Done() bool {
	return it.off >= uint64(it.img.size)
}

func (it *Iterator) Next() {
	it.off += uint64(it.img.pageSize)
}

func (it *Iterator) SeekBlock(block uint64) {
	it.off = block * uint64(it.img.pageSize)
}

func (it *Iterator) SeekRaw(offset uint64) {
	it.off = offset
}

func (it *Iterator) RawOffset() uint64 { return it.off }

func (it *Iterator) PageNumber() uint64 {
	return it.off / uint64(it.img.pageSize)
}

func (it *Iterator) MaxBlocks() uint64 { return it.img.MaxBlocks() }

func (it *Iterator) FractionDone() float64 {
	if it.img.size == 0 {
		return 1.0
	}
	return float64(it.off) / float64(it.img.size)
}

func (it *Iterator) Pos0() position.Position {
	return position.New(it.off)
}

// ReadPage reads pagesize+margin bytes at the current offset, clamped to the
// end of the image. The returned buffer owns its bytes; successive reads
// never share storage.
func (it *Iterator) ReadPage() (*sbuf.Buf, error) {
	if it.Done() {
		return nil, fmt.Errorf("read past end of image at offset %d", it.off)
	}
	remaining := uint64(it.img.size) - it.off

	bufsize := uint64(it.img.pageSize + it.img.margin)
	if bufsize > remaining {
		bufsize = remaining
	}
	pagesize := uint64(it.img.pageSize)
	if pagesize > remaining {
		pagesize = remaining
	}

	data := make([]byte, bufsize)
	n, err := it.img.r.ReadAt(data, int64(it.off))
	if err != nil && !(err == io.EOF && uint64(n) == bufsize) {
		return nil, fmt.Errorf("read failed at %s: %w", it.Pos0(), err)
	}
	return sbuf.New(it.Pos0(), data, int(pagesize)), nil
}
