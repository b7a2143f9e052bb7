package phase1

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/scanlab/bulkscan/internal/image"
	"github.com/scanlab/bulkscan/internal/report"
	"github.com/scanlab/bulkscan/internal/sbuf"
)

// errRetriesExhausted marks the one dispatch failure that is fatal: the
// allocator-retry budget ran out at a single position.
var errRetriesExhausted = errors.New("too many page allocation failures in a row")

// dispatch walks the image and feeds eligible pages to the pool. One loop
// serves both modes: in sampling mode the iterator is seeked to each
// planned block, otherwise it advances a page at a time.
func (p *Phase1) dispatch(ctx context.Context) error {
	it := p.src.Begin()

	if p.cfg.OffsetStart > 0 {
		if !p.cfg.Quiet {
			fmt.Printf("offset set to %d\n", p.cfg.OffsetStart)
		}
		it.SeekRaw(p.cfg.OffsetStart)
	}

	passes := 1
	if p.cfg.Sampling() {
		passes = p.cfg.SamplingPasses
	}

	for pass := 0; pass < passes; pass++ {
		var plan []uint64
		if p.cfg.Sampling() {
			// The generator restarts from the seed every pass, so each pass
			// replays the identical plan and the seen-set suppresses every
			// resubmission.
			rng := rand.New(rand.NewSource(p.cfg.SamplingSeed))
			var err error
			plan, err = makeSamplingPlan(it.MaxBlocks(), p.cfg.SamplingFraction, rng)
			if err != nil {
				return err
			}
		}

		si := 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.cfg.Sampling() {
				if si >= len(plan) {
					break
				}
				it.SeekBlock(plan[si])
			} else if it.Done() {
				break
			}

			if p.cfg.OffsetEnd != 0 && p.cfg.OffsetEnd <= it.RawOffset() {
				break // passed the end gate
			}

			if p.cfg.PageStart <= it.PageNumber() && p.cfg.OffsetStart <= it.RawOffset() {
				pos := it.Pos0().String()
				if _, done := p.seen[pos]; !done {
					p.seen[pos] = struct{}{}
					if err := p.submitCurrent(ctx, it); err != nil {
						return err
					}
				}
			}

			if p.cfg.Sampling() {
				si++
			} else {
				it.Next()
			}
		}
	}
	return nil
}

// submitCurrent reads the page under the iterator and schedules it. Fatal
// errors (exhausted allocator retries) propagate; per-page read failures
// are recorded and swallowed so the loop continues with the next candidate.
func (p *Phase1) submitCurrent(ctx context.Context, it image.Iter) error {
	buf, err := p.getSbuf(ctx, it)
	if err != nil {
		if errors.Is(err, errRetriesExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		attrs := report.Attr("name", err.Error()) + " " + report.Attr("pos0", it.Pos0().String())
		p.rep.Emit("debug:exception", err.Error(), attrs, true)
		if p.cfg.ReportReadErrors && p.errLimit.Allow() {
			fmt.Fprintf(os.Stderr, "Exception %v skipping %s\n", err, it.Pos0())
		}
		return nil
	}

	p.updateHash(buf)
	p.totalBytes += uint64(buf.PageSize())

	wu := workUnit{set: p.set, buf: buf}
	start := time.Now()
	p.pool.Submit(func() { wu.process(ctx) })
	p.producerWait += time.Since(start)

	if !p.cfg.Quiet {
		p.notifyUser(it)
	}
	return nil
}

// getSbuf acquires the current page, treating allocation pressure as
// transient: log, sleep, retry, up to MaxBadAllocErrors retries. Any other
// read error is returned to the caller for per-page handling.
func (p *Phase1) getSbuf(ctx context.Context, it image.Iter) (*sbuf.Buf, error) {
	for retry := 0; retry <= p.cfg.MaxBadAllocErrors; retry++ {
		buf, err := it.ReadPage()
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, image.ErrNoMemory) {
			return nil, err
		}

		fmt.Fprintf(os.Stderr, "Low Memory (bad_alloc) exception: %v reading %s (retry_count=%d of %d)\n",
			err, it.Pos0(), retry, p.cfg.MaxBadAllocErrors)
		attrs := report.Attr("name", "bad_alloc") + " " +
			report.Attr("pos0", it.Pos0().String()) + " " +
			report.Attr("retry_count", strconv.Itoa(retry))
		p.rep.Emit("debug:exception", err.Error(), attrs, true)

		if retry < p.cfg.MaxBadAllocErrors {
			fmt.Fprintf(os.Stderr, "will wait for %v and try again...\n", p.cfg.RetryDelay)
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	fmt.Fprintln(os.Stderr, "Too many errors encountered in a row. Diagnose and restart.")
	return nil, fmt.Errorf("%w at %s", errRetriesExhausted, it.Pos0())
}

// updateHash feeds the page into the rolling whole-image hash while pages
// keep arriving back-to-back from offset 0. The first gap (sampling, offset
// gates, a skipped page) abandons the hash for the rest of the run.
func (p *Phase1) updateHash(buf *sbuf.Buf) {
	if p.sha1g == nil {
		return
	}
	if buf.Pos().Offset() != p.sha1Next {
		p.sha1g = nil
		return
	}
	p.sha1g.Write(buf.Page())
	p.sha1Next += uint64(buf.PageSize())
}
