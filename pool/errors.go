package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolSaturated is returned by Submit when the task queue is at its
	// configured maximum depth. The task was never accepted.
	ErrPoolSaturated = errors.New("pool: queue saturated")

	// ErrCancelled settles a task whose caller withdrew interest before it
	// produced a result, and every task outstanding at ShutdownNow.
	ErrCancelled = errors.New("pool: task cancelled")

	// ErrNotStarted is returned when submitting to a pool before Start.
	ErrNotStarted = errors.New("pool: not started")

	// ErrAlreadyStarted is returned by Start on a running pool.
	ErrAlreadyStarted = errors.New("pool: already started")

	// ErrDraining is returned by Submit once Drain has begun.
	ErrDraining = errors.New("pool: draining")

	// ErrPoolClosed is returned after shutdown, and wraps the supervisor
	// fault when the pool failed fatally.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrUnknownFunction is returned by Submit for an unregistered
	// function ID.
	ErrUnknownFunction = errors.New("pool: unknown function")

	// ErrBufferReleased is returned when accessing a buffer whose
	// ownership has been transferred away.
	ErrBufferReleased = errors.New("pool: buffer ownership released")

	// ErrAlreadySettled is returned by Cancel when the task's outcome has
	// already been delivered.
	ErrAlreadySettled = errors.New("pool: task already settled")

	// ErrShutdownTimeout is returned by Drain when workers did not finish
	// within the given timeout.
	ErrShutdownTimeout = errors.New("pool: shutdown timeout reached")
)

// TaskError reports that a registered function faulted. The worker that
// ran it survived and the pool is unaffected.
type TaskError struct {
	FunctionID string
	TaskID     uint64
	Err        error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s) failed: %v", e.TaskID, e.FunctionID, e.Err)
}

// Unwrap returns the fault raised by the function.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// WorkerCrashedError reports that every attempt at a task ended with its
// worker's execution context dying, and the retry limit is exhausted.
type WorkerCrashedError struct {
	TaskID uint64
	// Attempts is the number of crashed attempts.
	Attempts int
	// PanicValue is the panic from the final attempt, nil when the worker
	// was force-terminated by the health check instead.
	PanicValue any
}

func (e *WorkerCrashedError) Error() string {
	if e.PanicValue != nil {
		return fmt.Sprintf("task %d: worker crashed %d time(s), last panic: %v", e.TaskID, e.Attempts, e.PanicValue)
	}
	return fmt.Sprintf("task %d: worker crashed %d time(s)", e.TaskID, e.Attempts)
}

// AsTaskError extracts a TaskError from err, if any.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	ok := errors.As(err, &te)
	return te, ok
}

// IsWorkerCrash reports whether err is a WorkerCrashedError.
func IsWorkerCrash(err error) bool {
	var wc *WorkerCrashedError
	return errors.As(err, &wc)
}
