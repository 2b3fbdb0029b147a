// Package dispatch keeps the pool's shared bookkeeping: the bounded queue
// of tasks awaiting a worker and the map of task ID to pending request.
//
// These two structures are the only state touched by both the submission
// path and the completion path, so every operation here runs under one
// mutex. Settlement is exactly-once: an entry leaves the map before its
// outcome is delivered, and any later message for the same task finds no
// entry and is dropped. Each assignment carries an epoch so a result from
// an abandoned attempt cannot settle a task that has since been requeued.
package dispatch

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("dispatch: task queue full")

	// ErrDuplicateTask is returned by Submit when the task ID is already
	// pending. It indicates a bug in ID allocation, not a caller error.
	ErrDuplicateTask = errors.New("dispatch: duplicate task id")

	// ErrClosed is returned by Submit after SettleAll has run: a closed
	// ledger can never deliver an outcome, so it accepts nothing.
	ErrClosed = errors.New("dispatch: ledger closed")
)

type entryState int

const (
	stateQueued entryState = iota
	stateInFlight
	stateWaitingRetry
)

// entry is the pending request for one task: it exists from submission
// until the task's outcome is delivered.
type entry[O any] struct {
	task     *Task
	state    entryState
	epoch    uint64 // bumped on every assignment
	worker   int    // assigned worker while in flight
	attempts int    // crash reassignments so far
	out      chan<- O
}

// Ledger maps outstanding task IDs to their pending requests and owns the
// bounded FIFO of tasks waiting for a worker. O is the outcome type
// delivered to submitters.
type Ledger[O any] struct {
	mu       sync.Mutex
	fifo     *queue.Queue // of uint64 task IDs
	queued   int          // live queued entries (fifo may hold stale IDs)
	maxDepth int
	closed   bool
	pending  map[uint64]*entry[O]
}

// NewLedger creates a ledger whose queue rejects submissions beyond
// maxDepth. maxDepth <= 0 means unbounded.
func NewLedger[O any](maxDepth int) *Ledger[O] {
	return &Ledger[O]{
		fifo:     queue.New(),
		maxDepth: maxDepth,
		pending:  make(map[uint64]*entry[O]),
	}
}

// Submit registers a pending request for t and enqueues it. out must have
// capacity for one element; the ledger sends the task's outcome on it
// exactly once.
func (l *Ledger[O]) Submit(t *Task, out chan<- O) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.maxDepth > 0 && l.queued >= l.maxDepth {
		return ErrQueueFull
	}
	if _, ok := l.pending[t.ID]; ok {
		return ErrDuplicateTask
	}

	l.pending[t.ID] = &entry[O]{task: t, state: stateQueued, out: out}
	l.fifo.Add(t.ID)
	l.queued++
	return nil
}

// Next pops the next queued task and marks it in flight on workerID,
// returning the task and the epoch of this assignment. IDs whose entries
// were settled while queued (cancellation) are skipped.
func (l *Ledger[O]) Next(workerID int) (*Task, uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.fifo.Length() > 0 {
		id := l.fifo.Remove().(uint64)
		e, ok := l.pending[id]
		if !ok || e.state != stateQueued {
			continue
		}

		e.state = stateInFlight
		e.worker = workerID
		e.epoch++
		l.queued--
		return e.task, e.epoch, true
	}
	return nil, 0, false
}

// Complete settles the task with outcome o if it is still in flight under
// the given epoch. Late or duplicate completions return false and are
// otherwise ignored.
func (l *Ledger[O]) Complete(taskID, epoch uint64, o O) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[taskID]
	if !ok || e.state != stateInFlight || e.epoch != epoch {
		return false
	}

	delete(l.pending, taskID)
	e.out <- o
	return true
}

// Unassign returns an in-flight task to the queue without counting a
// crash attempt. Used when a worker rejects an assignment it was never
// going to execute.
func (l *Ledger[O]) Unassign(taskID, epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[taskID]
	if !ok || e.state != stateInFlight || e.epoch != epoch {
		return false
	}

	e.state = stateQueued
	l.fifo.Add(taskID)
	l.queued++
	return true
}

// CrashInFlight records that the worker executing the task crashed. The
// entry moves to the waiting-retry state and the new attempt count is
// returned. Returns ok=false when the crash report is stale (the task was
// already settled, cancelled, or reassigned).
func (l *Ledger[O]) CrashInFlight(taskID, epoch uint64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[taskID]
	if !ok || e.state != stateInFlight || e.epoch != epoch {
		return 0, false
	}

	e.state = stateWaitingRetry
	e.attempts++
	return e.attempts, true
}

// Requeue moves a waiting-retry task back onto the queue for reassignment.
// Requeues bypass the depth limit: backpressure applies to new
// submissions, never to work the pool already accepted.
func (l *Ledger[O]) Requeue(taskID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[taskID]
	if !ok || e.state != stateWaitingRetry {
		return false
	}

	e.state = stateQueued
	l.fifo.Add(taskID)
	l.queued++
	return true
}

// Settle removes the pending request in any state and delivers o. Used for
// cancellation, retry exhaustion, and pool shutdown. Returns false when
// the task has already been settled.
//
// When the task was in flight, the second return value is the worker it
// was assigned to, so the caller can interrupt it best-effort.
func (l *Ledger[O]) Settle(taskID uint64, o O) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[taskID]
	if !ok {
		return false, -1
	}

	worker := -1
	switch e.state {
	case stateInFlight:
		worker = e.worker
	case stateQueued:
		l.queued--
	}

	delete(l.pending, taskID)
	e.out <- o
	return true, worker
}

// SettleAll closes the ledger and settles every outstanding pending
// request with the outcome built by make, returning how many were
// settled. Submissions after SettleAll fail with ErrClosed.
func (l *Ledger[O]) SettleAll(make func(*Task) O) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	n := 0
	for id, e := range l.pending {
		delete(l.pending, id)
		e.out <- make(e.task)
		n++
	}
	l.queued = 0
	return n
}

// QueuedLen returns the number of tasks waiting for a worker.
func (l *Ledger[O]) QueuedLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queued
}

// PendingLen returns the number of unsettled tasks (queued, in flight, or
// waiting for retry).
func (l *Ledger[O]) PendingLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
