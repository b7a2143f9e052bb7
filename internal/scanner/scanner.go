// Package scanner defines the content-scanner contract and the scanner set
// that fans one page out to every registered scanner.
package scanner

import (
	"context"

	"github.com/scanlab/bulkscan/internal/sbuf"
)

// Phase tells a scanner why it is being invoked.
type Phase int

const (
	// PhaseInit is called once per scanner before any page is scanned.
	PhaseInit Phase = iota
	// PhaseScan is the per-page invocation.
	PhaseScan
	// PhaseShutdown is called once per scanner after the run drains.
	PhaseShutdown
)

// Params carries one invocation's inputs plus the callbacks a scanner may
// use: recording features and recursing into decoded substructure.
type Params struct {
	Phase Phase
	// Buf is the page under scan. Scanners must treat it as read-only;
	// other scanners share it concurrently. Nil during init and shutdown.
	Buf *sbuf.Buf

	set *Set
}

// Recurse hands a derived page back to the set for scanning. Ownership of
// child transfers to the new work unit; the caller must not touch it
// afterwards. The child runs on the pool when there is queue space and
// inline on the calling goroutine when there is not.
func (p *Params) Recurse(ctx context.Context, child *sbuf.Buf) {
	p.set.Recurse(ctx, child)
}

// Record appends a finding to the run's feature store under the given
// feature name, at off bytes into the page under scan.
func (p *Params) Record(name string, off uint64, feature, context []byte) error {
	return p.set.recorder.Record(name, p.Buf.Pos().Shift(off), feature, context)
}

// AcquireDecode reserves n bytes of decode budget before inflating a
// compressed region. It blocks while too many decompressions are in flight,
// bounding memory under recursion. Callers must pair it with ReleaseDecode.
func (p *Params) AcquireDecode(ctx context.Context, n int64) error {
	return p.set.sem.Acquire(ctx, p.set.clampWeight(n))
}

// ReleaseDecode returns decode budget taken by AcquireDecode.
func (p *Params) ReleaseDecode(n int64) {
	p.set.sem.Release(p.set.clampWeight(n))
}

// Scanner is one content recognizer. Scan runs concurrently on distinct
// pages and recursively on the same goroutine, so implementations must be
// reentrant.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, p *Params) error
}
