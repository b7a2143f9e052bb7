// Package scanners holds the built-in content recognizers.
package scanners

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/scanlab/bulkscan/internal/sbuf"
	"github.com/scanlab/bulkscan/internal/scanner"
)

// DefaultMaxUncompressed bounds a single decompressed object.
const DefaultMaxUncompressed = 256 << 20

// Gzip searches pages for gzip streams and recurses into their inflated
// payloads under a GZIP position tag.
type Gzip struct {
	maxUncompressed int64
}

// NewGzip builds the scanner. max <= 0 selects DefaultMaxUncompressed.
func NewGzip(max int64) *Gzip {
	if max <= 0 {
		max = DefaultMaxUncompressed
	}
	return &Gzip{maxUncompressed: max}
}

func (g *Gzip) Name() string { return "gzip" }

func (g *Gzip) Scan(ctx context.Context, p *scanner.Params) error {
	if p.Phase != scanner.PhaseScan {
		return nil
	}
	data := p.Buf.Bytes()
	// Signatures must start inside the logical page but may extend into the
	// margin; anything closer than 4 bytes to the buffer end cannot be a
	// stream worth opening.
	end := p.Buf.PageSize()
	if end > len(data)-4 {
		end = len(data) - 4
	}
	for i := 0; i < end; i++ {
		// RFC 1952: magic 1f 8b, deflate method 08.
		if data[i] == 0x1f && data[i+1] == 0x8b && data[i+2] == 0x08 {
			g.inflate(ctx, p, uint64(i), data[i:])
		}
	}
	return nil
}

func (g *Gzip) inflate(ctx context.Context, p *scanner.Params, off uint64, src []byte) {
	if err := p.AcquireDecode(ctx, g.maxUncompressed); err != nil {
		return
	}
	defer p.ReleaseDecode(g.maxUncompressed)

	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return // signature collision, not a real stream
	}
	defer zr.Close()
	zr.Multistream(false)

	// A truncated stream still inflates a useful prefix; scan whatever came
	// out and ignore the decode error.
	var out bytes.Buffer
	n, _ := io.Copy(&out, io.LimitReader(zr, g.maxUncompressed))
	if n > 0 {
		p.Recurse(ctx, sbuf.NewChild(p.Buf, "GZIP", off, out.Bytes()))
	}
}
