package worker

import "time"

// Request is the message handed across the isolation boundary into a
// worker: the function to run plus its serialized (or transferred) input.
type Request struct {
	TaskID     uint64
	Epoch      uint64
	FunctionID string

	// Payload is the CBOR-encoded input for copy-semantics tasks.
	Payload []byte

	// Buffer is the transferred buffer for transfer-semantics tasks. The
	// worker owns it for the duration of the attempt and may mutate it.
	Buffer   []byte
	Transfer bool
}

// Response carries one finished attempt back to the coordinator.
type Response struct {
	TaskID     uint64
	Epoch      uint64
	WorkerID   int
	FunctionID string

	// Payload is the CBOR-encoded result value.
	Payload []byte

	// Buffer is the (possibly mutated) transfer buffer, handed back to
	// the caller's side of the boundary.
	Buffer []byte

	// Err is a fault raised by the registered function. The worker itself
	// survived; this is a task-level failure.
	Err error

	Started  time.Time
	Duration time.Duration
}

// EventKind discriminates worker events.
type EventKind int

const (
	// EventResult reports a completed attempt (success or function fault).
	EventResult EventKind = iota

	// EventCrashed reports that the worker's execution context died while
	// holding a task. The worker goroutine has exited and the handle is
	// Terminated; the supervisor must replace it.
	EventCrashed
)

// Event is the only channel of communication from workers back to the
// coordinating context.
type Event struct {
	Kind     EventKind
	WorkerID int

	// Resp is set for EventResult.
	Resp Response

	// Crash details, set for EventCrashed.
	TaskID     uint64
	Epoch      uint64
	PanicValue any
	Stack      []byte
}
