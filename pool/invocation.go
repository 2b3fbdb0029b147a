package pool

import (
	"context"

	"github.com/taskforge/taskforge/internal/codec"
)

// Handler is the per-worker execution contract: it receives one task's
// input through the Invocation and returns one result value or raises a
// fault. Handlers run inside worker contexts and have no access to the
// coordinator's state; everything they need must arrive in the payload.
//
// A returned error settles only this task (TaskError). A panic terminates
// the worker context and is handled as a crash.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Invocation is a task as seen from inside a worker.
type Invocation struct {
	taskID     uint64
	functionID string
	payload    []byte
	buffer     *Buffer
}

// TaskID returns the task's unique ID.
func (inv *Invocation) TaskID() uint64 { return inv.taskID }

// FunctionID returns the registered name the task was addressed to.
func (inv *Invocation) FunctionID() string { return inv.functionID }

// Decode deserializes a copy-semantics payload into v, which must be a
// pointer.
func (inv *Invocation) Decode(v any) error {
	return codec.Unmarshal(inv.payload, v)
}

// Bytes returns the raw serialized payload.
func (inv *Invocation) Bytes() []byte { return inv.payload }

// Buffer returns the transferred buffer for transfer-semantics tasks, or
// nil. The worker owns it for the duration of the attempt and may mutate
// it in place; if the handler returns nil, the mutated buffer is handed
// back to the caller.
func (inv *Invocation) Buffer() *Buffer { return inv.buffer }
