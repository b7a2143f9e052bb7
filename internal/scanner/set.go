package scanner

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/scanlab/bulkscan/internal/feature"
	"github.com/scanlab/bulkscan/internal/pool"
	"github.com/scanlab/bulkscan/internal/sbuf"
)

// Submitter is the slice of the worker pool the set needs for recursion.
// *pool.Pool implements it.
type Submitter interface {
	TrySubmit(t pool.Task) bool
}

// DiagFunc receives scanner failures and recursion refusals. Implementations
// must be safe for concurrent use; the default writes to stderr.
type DiagFunc func(scannerName string, pos string, err error)

// Config bounds the set's recursion and memory appetite.
type Config struct {
	// MaxDepth is the deepest Position (in decode steps) the set will
	// recurse into. Deeper submissions are refused and diagnosed. Guards
	// against pathological nesting such as quines and zip bombs.
	MaxDepth int
	// MaxDecodeBytes is the total decode budget scanners may hold at once
	// via Params.AcquireDecode.
	MaxDecodeBytes int64
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:       7,
		MaxDecodeBytes: 1 << 30, // 1 GiB of concurrent decompression
	}
}

func (c Config) validated() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultConfig().MaxDepth
	}
	if c.MaxDecodeBytes <= 0 {
		c.MaxDecodeBytes = DefaultConfig().MaxDecodeBytes
	}
	return c
}

// Set is the registry of scanners. Process runs every registered scanner
// against one page in registration order; Recurse feeds derived pages back
// through the pool. The set itself is a read-only aggregate once scanning
// starts, so workers share it without locks.
type Set struct {
	cfg      Config
	scanners []Scanner
	recorder feature.Recorder
	submit   Submitter
	sem      *semaphore.Weighted
	diag     DiagFunc

	processed atomic.Uint64
	refused   atomic.Uint64
}

// NewSet creates a set writing findings to recorder.
func NewSet(cfg Config, recorder feature.Recorder) *Set {
	cfg = cfg.validated()
	return &Set{
		cfg:      cfg,
		recorder: recorder,
		sem:      semaphore.NewWeighted(cfg.MaxDecodeBytes),
		diag: func(name, pos string, err error) {
			fmt.Fprintf(os.Stderr, "Warning: scanner %s failed at %s: %v\n", name, pos, err)
		},
	}
}

// Register appends a scanner. Registration order is invocation order.
func (s *Set) Register(sc Scanner) {
	s.scanners = append(s.scanners, sc)
}

// Names lists registered scanners in invocation order.
func (s *Set) Names() []string {
	out := make([]string, len(s.scanners))
	for i, sc := range s.scanners {
		out[i] = sc.Name()
	}
	return out
}

// SetSubmitter binds the set to a worker pool for recursion. Without one,
// recursive pages run inline on the submitting goroutine.
func (s *Set) SetSubmitter(sub Submitter) { s.submit = sub }

// SetDiagnosticSink replaces the stderr diagnostic sink.
func (s *Set) SetDiagnosticSink(fn DiagFunc) {
	if fn != nil {
		s.diag = fn
	}
}

// Recorder exposes the feature store for finalization statistics.
func (s *Set) Recorder() feature.Recorder { return s.recorder }

// Processed reports how many pages (leaf and derived) the set has scanned.
func (s *Set) Processed() uint64 { return s.processed.Load() }

// Init invokes every scanner once with PhaseInit. A scanner that fails to
// initialize is diagnosed and dropped from the run.
func (s *Set) Init(ctx context.Context) {
	kept := s.scanners[:0]
	for _, sc := range s.scanners {
		if err := s.invoke(ctx, sc, &Params{Phase: PhaseInit, set: s}); err != nil {
			s.diag(sc.Name(), "", fmt.Errorf("init failed, scanner disabled: %w", err))
			continue
		}
		kept = append(kept, sc)
	}
	s.scanners = kept
}

// Shutdown invokes every scanner once with PhaseShutdown.
func (s *Set) Shutdown(ctx context.Context) {
	for _, sc := range s.scanners {
		if err := s.invoke(ctx, sc, &Params{Phase: PhaseShutdown, set: s}); err != nil {
			s.diag(sc.Name(), "", err)
		}
	}
}

// Process runs all scanners against one page. Scanner failures (errors and
// panics alike) are diagnosed and never propagate; a broken scanner must
// not poison the worker or starve the other scanners of the page.
func (s *Set) Process(ctx context.Context, buf *sbuf.Buf) {
	s.processed.Add(1)
	for _, sc := range s.scanners {
		if err := s.invoke(ctx, sc, &Params{Phase: PhaseScan, Buf: buf, set: s}); err != nil {
			s.diag(sc.Name(), buf.Pos().String(), err)
		}
	}
}

// Recurse schedules a derived page. When the pool's queue is saturated the
// page runs inline on the calling goroutine instead (reentrant drain), so a
// scanner submitting from inside a worker can never deadlock against its
// own pool.
func (s *Set) Recurse(ctx context.Context, child *sbuf.Buf) {
	if child.Depth() > s.cfg.MaxDepth {
		s.refused.Add(1)
		s.diag("", child.Pos().String(),
			fmt.Errorf("recursion depth %d exceeds limit %d, not scanning", child.Depth(), s.cfg.MaxDepth))
		return
	}
	task := func() { s.Process(ctx, child) }
	if s.submit == nil || !s.submit.TrySubmit(task) {
		task()
	}
}

// RefusedRecursions reports how many derived pages were dropped at the
// depth limit.
func (s *Set) RefusedRecursions() uint64 { return s.refused.Load() }

func (s *Set) invoke(ctx context.Context, sc Scanner, p *Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sc.Scan(ctx, p)
}

func (s *Set) clampWeight(n int64) int64 {
	if n < 1 {
		return 1
	}
	if n > s.cfg.MaxDecodeBytes {
		return s.cfg.MaxDecodeBytes
	}
	return n
}
