package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllTasksRunBeforeJoinReturns(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)

	var ran atomic.Int64
	for i := 0; i < 200; i++ {
		p.Submit(func() { ran.Add(1) })
	}
	p.Join()
	assert.Equal(t, int64(200), ran.Load())
}

func TestJoinIdempotent(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	p.Submit(func() {})
	p.Join()
	p.Join() // second call must return immediately without panicking
}

func TestInvalidWorkerCount(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-3)
	assert.Error(t, err)
}

func TestSubmitBlocksWhenFull(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	// Occupy the single worker, then fill the queue (capacity 2).
	p.Submit(func() { close(started); <-release })
	<-started
	p.Submit(func() {})
	p.Submit(func() {})

	submitted := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("Submit returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit never unblocked after the worker freed up")
	}
	p.Join()
}

func TestTrySubmitReportsSaturation(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() { close(started); <-release })
	<-started
	p.Submit(func() {})
	p.Submit(func() {})

	assert.False(t, p.TrySubmit(func() {}), "queue is saturated")

	close(release)
	p.Join()
	assert.False(t, p.TrySubmit(func() {}), "pool has shut down")
}

// Tasks that submit children through TrySubmit-else-inline must finish even
// when recursion outnumbers the queue, and every child must run before Join
// returns.
func TestRecursiveSubmissionDoesNotDeadlock(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)

	var ran atomic.Int64
	var spawn func(depth int) func()
	spawn = func(depth int) func() {
		return func() {
			ran.Add(1)
			if depth == 0 {
				return
			}
			for i := 0; i < 4; i++ {
				child := spawn(depth - 1)
				if !p.TrySubmit(child) {
					child() // reentrant drain: run inline on this worker
				}
			}
		}
	}

	p.Submit(spawn(4))

	done := make(chan struct{})
	go func() {
		p.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Join did not return; recursive submission deadlocked")
	}
	// 1 + 4 + 16 + 64 + 256 tasks.
	assert.Equal(t, int64(341), ran.Load())
}

func TestJoinTimeout(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)

	release := make(chan struct{})
	p.Submit(func() { <-release })

	start := time.Now()
	assert.False(t, p.JoinTimeout(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	// The straggler keeps running; a later join completes the drain.
	close(release)
	assert.True(t, p.JoinTimeout(time.Second))
}

func TestPanicDoesNotPoisonWorker(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)

	var ran atomic.Int64
	p.Submit(func() { panic("scanner blew up") })
	p.Submit(func() { ran.Add(1) })
	p.Join()
	assert.Equal(t, int64(1), ran.Load(), "worker must survive a panicking task")
}

func TestWorkerWaits(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() { defer wg.Done(); time.Sleep(20 * time.Millisecond) })
	wg.Wait()
	p.Join()

	waits := p.WorkerWaits()
	require.Len(t, waits, 2)
	// The idle worker sat blocked on the queue while the other slept.
	var total time.Duration
	for _, w := range waits {
		total += w
	}
	assert.Greater(t, total, time.Duration(0))
}
