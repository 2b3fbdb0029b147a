package dispatch

import "time"

// Task is the immutable description of one unit of work. It is created at
// submission and never mutated afterwards; reassignment bookkeeping lives
// in the ledger entry, not here.
type Task struct {
	// ID uniquely identifies the task within one pool.
	ID uint64

	// FunctionID names the registered function that will execute the task.
	FunctionID string

	// Payload is the CBOR-encoded input for copy-semantics tasks. Nil when
	// Transfer is set.
	Payload []byte

	// Buffer is the raw transferred buffer for transfer-semantics tasks.
	// The submitter's reference has been revoked by the time it is stored
	// here, so the worker may mutate it in place.
	Buffer []byte

	// Transfer marks the task as using transfer semantics.
	Transfer bool

	// SubmittedAt records when the task entered the pool.
	SubmittedAt time.Time
}
