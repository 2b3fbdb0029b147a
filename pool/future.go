package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is the caller's handle on one submitted task. It settles exactly
// once with the task's Outcome, independent of the completion order of
// other tasks.
type Future struct {
	taskID uint64
	pool   *Pool

	result chan Outcome // the ledger delivers here exactly once
	done   chan struct{}

	mu     sync.Mutex
	ready  atomic.Bool
	cached Outcome
}

func newFuture(p *Pool, taskID uint64) *Future {
	return &Future{
		taskID: taskID,
		pool:   p,
		result: make(chan Outcome, 1),
		done:   make(chan struct{}),
	}
}

// TaskID returns the ID of the task this future settles.
func (f *Future) TaskID() uint64 { return f.taskID }

// Get blocks until the task's outcome is available. Every task eventually
// settles (success, fault, crash, cancellation, or pool shutdown), so Get
// cannot hang. Repeated calls return the same outcome.
func (f *Future) Get() Outcome {
	o, _ := f.GetWithContext(context.Background())
	return o
}

// GetWithContext blocks until the outcome is available or ctx is done, in
// which case it returns the context's error. The task itself is not
// cancelled; use Cancel for that.
func (f *Future) GetWithContext(ctx context.Context) (Outcome, error) {
	if f.ready.Load() {
		return f.cachedOutcome(), nil
	}

	select {
	case o := <-f.result:
		f.settle(o)
		return o, nil
	case <-f.done:
		return f.cachedOutcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// TryGet returns the outcome without blocking. The second return value
// reports whether the task has settled.
func (f *Future) TryGet() (Outcome, bool) {
	if f.ready.Load() {
		return f.cachedOutcome(), true
	}

	select {
	case o := <-f.result:
		f.settle(o)
		return o, true
	case <-f.done:
		return f.cachedOutcome(), true
	default:
		return Outcome{}, false
	}
}

// IsReady reports whether the outcome has been observed.
func (f *Future) IsReady() bool {
	return f.ready.Load()
}

// Done returns a channel closed once the outcome has been observed by a
// Get, GetWithContext, or TryGet call; useful in select loops.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Cancel withdraws the task. A still-queued task is guaranteed never to
// execute and settles with ErrCancelled. For an in-flight task the
// worker's context is cancelled best-effort and the future settles with
// ErrCancelled immediately; whatever the worker still produces is
// discarded. Returns ErrAlreadySettled if the outcome was already
// delivered.
func (f *Future) Cancel() error {
	return f.pool.cancel(f.taskID)
}

func (f *Future) settle(o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready.Load() {
		return
	}
	f.cached = o
	f.ready.Store(true)
	close(f.done)
}

func (f *Future) cachedOutcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached
}
