// Package image presents an opaque byte source (disk image, raw device,
// plain file) as a sequence of addressable, fixed-size pages.
//
// Pages overlap by a configurable margin: each read returns pagesize bytes
// of logical page plus up to margin bytes past it, so scanners can match
// structures that straddle a page boundary without double-counting them.
package image

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/scanlab/bulkscan/internal/position"
	"github.com/scanlab/bulkscan/internal/sbuf"
)

// ErrNoMemory signals that a page buffer could not be allocated. It is the
// one read failure the dispatch loop treats as transient and retries; every
// other error is recorded against the page and skipped.
var ErrNoMemory = errors.New("image: cannot allocate page buffer")

// Default page geometry: 16 MiB pages with a 4 MiB overlap margin.
const (
	DefaultPageSize = 16 * 1024 * 1024
	DefaultMargin   = 4 * 1024 * 1024
)

// Source is the read side the phase-1 driver consumes. *Image implements
// it; tests substitute deterministic fakes.
type Source interface {
	Filename() string
	Size() int64
	Begin() Iter
}

// Iter walks a source one page at a time. It supports both sequential
// advance (Next) and random access (SeekBlock, SeekRaw) for sampling runs.
type Iter interface {
	// Done reports whether the iterator is past the last page.
	Done() bool
	// Next advances to the following page.
	Next()
	// SeekBlock positions the iterator at the start of the given block.
	SeekBlock(block uint64)
	// SeekRaw positions the iterator at a raw byte offset.
	SeekRaw(offset uint64)
	// RawOffset is the byte offset of the current page.
	RawOffset() uint64
	// PageNumber is the index of the current page.
	PageNumber() uint64
	// MaxBlocks is the total number of pages in the source.
	MaxBlocks() uint64
	// FractionDone is RawOffset over the source size.
	FractionDone() float64
	// Pos0 is the provenance position of the current page's first byte.
	Pos0() position.Position
	// ReadPage reads the current page into a freshly owned buffer. It may
	// fail with ErrNoMemory under allocation pressure.
	ReadPage() (*sbuf.Buf, error)
}

// Options configures page geometry.
type Options struct {
	PageSize int
	Margin   int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Margin < 0 {
		o.Margin = DefaultMargin
	}
	return o
}

// Image reads pages out of an io.ReaderAt of known size.
type Image struct {
	r        io.ReaderAt
	closer   io.Closer
	name     string
	size     int64
	pageSize int
	margin   int
}

// Open opens a file-backed image.
func Open(path string, opts Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	img := NewReaderAt(f, fi.Size(), path, opts)
	img.closer = f
	return img, nil
}

// NewReaderAt wraps an arbitrary ReaderAt of known size as an image.
func NewReaderAt(r io.ReaderAt, size int64, name string, opts Options) *Image {
	opts = opts.withDefaults()
	return &Image{
		r:        r,
		name:     name,
		size:     size,
		pageSize: opts.PageSize,
		margin:   opts.Margin,
	}
}

// Close releases the underlying file, if the image owns one.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

// Filename is the path or label the image was opened with.
func (img *Image) Filename() string { return img.name }

// Size is the image length in bytes.
func (img *Image) Size() int64 { return img.size }

// PageSize is the logical page length in bytes.
func (img *Image) PageSize() int { return img.pageSize }

// MaxBlocks is the number of pages, counting a trailing partial page.
func (img *Image) MaxBlocks() uint64 {
	if img.size == 0 {
		return 0
	}
	return uint64((img.size + int64(img.pageSize) - 1) / int64(img.pageSize))
}

// Begin returns an iterator positioned at the first page.
func (img *Image) Begin() Iter {
	return &Iterator{img: img}
}
