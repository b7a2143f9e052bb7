package scanners

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/scanlab/bulkscan/internal/sbuf"
	"github.com/scanlab/bulkscan/internal/scanner"
)

// Zlib searches pages for raw zlib streams (RFC 1950) and recurses into
// their inflated payloads under a ZLIB position tag.
type Zlib struct {
	maxUncompressed int64
}

// NewZlib builds the scanner. max <= 0 selects DefaultMaxUncompressed.
func NewZlib(max int64) *Zlib {
	if max <= 0 {
		max = DefaultMaxUncompressed
	}
	return &Zlib{maxUncompressed: max}
}

func (z *Zlib) Name() string { return "zlib" }

func (z *Zlib) Scan(ctx context.Context, p *scanner.Params) error {
	if p.Phase != scanner.PhaseScan {
		return nil
	}
	data := p.Buf.Bytes()
	end := p.Buf.PageSize()
	if end > len(data)-4 {
		end = len(data) - 4
	}
	for i := 0; i < end; i++ {
		// CMF 0x78 (deflate, 32K window) and a passing FCHECK. This prunes
		// almost all false positives before paying for an inflate attempt.
		if data[i] == 0x78 && (uint16(data[i])<<8|uint16(data[i+1]))%31 == 0 {
			z.inflate(ctx, p, uint64(i), data[i:])
		}
	}
	return nil
}

func (z *Zlib) inflate(ctx context.Context, p *scanner.Params, off uint64, src []byte) {
	if err := p.AcquireDecode(ctx, z.maxUncompressed); err != nil {
		return
	}
	defer p.ReleaseDecode(z.maxUncompressed)

	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return
	}
	defer zr.Close()

	var out bytes.Buffer
	n, _ := io.Copy(&out, io.LimitReader(zr, z.maxUncompressed))
	if n > 0 {
		p.Recurse(ctx, sbuf.NewChild(p.Buf, "ZLIB", off, out.Bytes()))
	}
}
