// Package phase1 implements the read-scan-recurse pass over an image: it
// feeds every page of the source through the scanner set on a worker pool,
// with sampling, dedup, allocator-retry, a rolling whole-image hash, and a
// bounded drain on shutdown.
package phase1

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanlab/bulkscan/internal/image"
	"github.com/scanlab/bulkscan/internal/pool"
	"github.com/scanlab/bulkscan/internal/report"
	"github.com/scanlab/bulkscan/internal/sbuf"
	"github.com/scanlab/bulkscan/internal/scanner"
)

// maxSamplingFraction is where the draw-until-full sampler degrades; denser
// sampling needs a different algorithm and is refused outright.
const maxSamplingFraction = 0.2

// Config holds the phase-1 knobs. DefaultConfig gives production values;
// zero values are rejected by Validate where they make no sense.
type Config struct {
	// NumThreads is the worker count.
	NumThreads int
	// MaxBadAllocErrors is how many times a failed page allocation is
	// retried before the run aborts.
	MaxBadAllocErrors int
	// RetryDelay is the sleep between allocation retries.
	RetryDelay time.Duration
	// MaxWaitTime bounds the post-dispatch drain. Zero waits forever.
	MaxWaitTime time.Duration

	// OffsetStart, OffsetEnd and PageStart gate which pages are scanned.
	// OffsetEnd == 0 means no end gate.
	OffsetStart uint64
	OffsetEnd   uint64
	PageStart   uint64

	// NotifyRate is how many pages pass between progress lines.
	NotifyRate int
	// Quiet suppresses all stdout output.
	Quiet bool
	// ReportReadErrors echoes per-page read failures to stderr as well as
	// the report.
	ReportReadErrors bool

	// SamplingFraction selects random-sampling mode when nonzero
	// (0 < f < 0.2). SamplingPasses replays the plan that many times;
	// SamplingSeed makes the plan reproducible.
	SamplingFraction float64
	SamplingPasses   int
	SamplingSeed     int64

	// DisableHash turns off the rolling SHA-1 of the image prefix.
	DisableHash bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		NumThreads:        runtime.NumCPU(),
		MaxBadAllocErrors: 60,
		RetryDelay:        60 * time.Second,
		MaxWaitTime:       time.Hour,
		NotifyRate:        4,
		SamplingPasses:    1,
	}
}

// Sampling reports whether the run visits random blocks instead of
// advancing sequentially.
func (c Config) Sampling() bool { return c.SamplingFraction > 0 }

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.NumThreads < 1 {
		return fmt.Errorf("num_threads must be >= 1 (got %d)", c.NumThreads)
	}
	if c.MaxBadAllocErrors < 0 {
		return fmt.Errorf("max_bad_alloc_errors must be >= 0 (got %d)", c.MaxBadAllocErrors)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be >= 0 (got %v)", c.RetryDelay)
	}
	if c.NotifyRate < 1 {
		return fmt.Errorf("notify rate must be >= 1 (got %d)", c.NotifyRate)
	}
	if c.SamplingFraction != 0 {
		if c.SamplingFraction < 0 || c.SamplingFraction >= 1 {
			return fmt.Errorf("sampling fraction f must be 0<f<1 (got %g)", c.SamplingFraction)
		}
		if c.SamplingFraction >= maxSamplingFraction {
			return fmt.Errorf("sampling fraction must be below %g; denser sampling needs a different sampler", maxSamplingFraction)
		}
		if c.SamplingPasses < 1 {
			return fmt.Errorf("sampling passes must be >= 1 (got %d)", c.SamplingPasses)
		}
	}
	return nil
}

// Phase1 is the driver state for one run. All fields are producer-local;
// workers only ever see the scanner set and their page buffers.
type Phase1 struct {
	cfg  Config
	src  image.Source
	set  *scanner.Set
	rep  *report.Writer
	pool *pool.Pool

	seen       map[string]struct{}
	sha1g      hash.Hash
	sha1Next   uint64
	totalBytes uint64

	notifyCtr int
	started   time.Time

	errLimit     *rate.Limiter
	producerWait time.Duration
}

// workUnit pairs one owned page with the shared scanner set; executing it
// runs every scanner against the page.
type workUnit struct {
	set *scanner.Set
	buf *sbuf.Buf
}

func (w workUnit) process(ctx context.Context) {
	w.set.Process(ctx, w.buf)
}

// Run executes phase 1: builds the pool, dispatches every eligible page,
// drains with the configured deadline, and finalizes the report. It returns
// an error only for invalid configuration, pool construction failure, an
// exhausted allocator-retry budget, or cancellation of ctx during dispatch;
// every other failure is recorded in the report and survived.
func Run(ctx context.Context, src image.Source, set *scanner.Set, cfg Config, rep *report.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid phase 1 configuration: %w", err)
	}

	p := &Phase1{
		cfg:      cfg,
		src:      src,
		set:      set,
		rep:      rep,
		seen:     make(map[string]struct{}),
		started:  time.Now(),
		errLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if !cfg.DisableHash {
		p.sha1g = sha1.New()
	}

	pl, err := pool.New(cfg.NumThreads)
	if err != nil {
		return fmt.Errorf("failed to build worker pool: %w", err)
	}
	p.pool = pl
	set.SetSubmitter(pl)

	rep.Push("runtime", "xmlns:debug='https://github.com/scanlab/bulkscan/issues'")

	dispatchErr := p.dispatch(ctx)

	if !cfg.Quiet {
		fmt.Println("All data are read; waiting for threads to finish...")
	}
	p.waitForWorkers()
	p.finalize()
	return dispatchErr
}

// waitForWorkers blocks until the pool drains or MaxWaitTime passes,
// emitting periodic elapsed-time comments. Workers that outlive the
// deadline are left running; finalization proceeds regardless.
func (p *Phase1) waitForWorkers() bool {
	drained := make(chan struct{})
	go func() {
		p.pool.Join()
		close(drained)
	}()

	var deadline <-chan time.Time
	if p.cfg.MaxWaitTime > 0 {
		timer := time.NewTimer(p.cfg.MaxWaitTime)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	waitStart := time.Now()
	for {
		select {
		case <-drained:
			if !p.cfg.Quiet {
				fmt.Println("All Threads Finished!")
			}
			return true
		case <-ticker.C:
			waiting := time.Since(waitStart)
			msg := fmt.Sprintf("Time elapsed waiting for workers to finish: %s (timeout in %s.)",
				minsec(waiting), minsec(p.cfg.MaxWaitTime-waiting))
			if !p.cfg.Quiet {
				fmt.Println(msg)
			}
			p.rep.Comment(msg)
		case <-deadline:
			msg := fmt.Sprintf("Phase 1 drain timed out after %s; proceeding to finalization with workers still running.",
				minsec(p.cfg.MaxWaitTime))
			fmt.Println(msg)
			p.rep.Comment(msg)
			return false
		}
	}
}

// finalize closes the runtime section and writes source, hash, feature and
// wait statistics. Safe to call after a timed-out drain.
func (p *Phase1) finalize() {
	p.rep.Pop() // runtime

	p.rep.Push("source", "")
	p.rep.Emit("image_filename", p.src.Filename(), "", true)
	p.rep.Emit("image_size", strconv.FormatInt(p.src.Size(), 10), "", false)
	if p.sha1g != nil {
		p.rep.Emit("hashdigest", hex.EncodeToString(p.sha1g.Sum(nil)), "type='SHA1'", false)
	}
	p.rep.Pop()

	if stats := p.set.Recorder().Stats(); len(stats) > 0 {
		p.rep.Push("feature_files", "")
		for _, s := range stats {
			p.rep.Push("feature_file", "")
			p.rep.Emit("name", s.Name, "", true)
			p.rep.Emit("count", strconv.FormatUint(s.Count, 10), "", false)
			p.rep.Pop()
		}
		p.rep.Pop()
	}

	p.rep.Emit("thread_wait", fmt.Sprintf("%.3f", p.producerWait.Seconds()), "thread='0'", false)
	waits := p.pool.WorkerWaits()
	var workerAvg float64
	for i, w := range waits {
		p.rep.Emit("thread_wait", fmt.Sprintf("%.3f", w.Seconds()),
			report.Attr("thread", strconv.Itoa(i+1)), false)
		workerAvg += w.Seconds() / float64(len(waits))
	}
	p.rep.Flush()

	if !p.cfg.Quiet {
		producer := p.producerWait.Seconds()
		fmt.Printf("Producer time spent waiting: %.1f sec.\n", producer)
		fmt.Printf("Average consumer time spent waiting: %.1f sec.\n", workerAvg)
		if workerAvg > producer*2 && workerAvg > 10 {
			fmt.Println("Scanning is probably I/O bound. A faster source drive would improve throughput.")
		}
		if producer > workerAvg*2 && producer > 10 {
			fmt.Println("Scanning is probably CPU bound. More cores would improve throughput.")
		}
	}
}

// minsec renders a duration as "M min S sec", leaving out a zero part;
// durations under half a second (and negative ones) render as "0 sec".
func minsec(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	min := int(d / time.Minute)
	sec := int(d % time.Minute / time.Second)
	var b strings.Builder
	if min > 0 {
		fmt.Fprintf(&b, "%d min", min)
	}
	if sec > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d sec", sec)
	}
	if b.Len() == 0 {
		return "0 sec"
	}
	return b.String()
}
