package pool

import (
	"time"

	"github.com/taskforge/taskforge/internal/codec"
)

// Outcome is the settlement of one task: either a success carrying a
// result value (and possibly a returned transfer buffer), or a failure.
// Exactly one Outcome is produced per task.
type Outcome struct {
	// TaskID identifies which task this outcome settles.
	TaskID uint64

	// Err is nil on success. On failure it is one of the pool's error
	// taxonomy: *TaskError, *WorkerCrashedError, ErrCancelled, or an
	// ErrPoolClosed wrap.
	Err error

	// Duration is how long the successful attempt ran, zero on failures
	// that never executed.
	Duration time.Duration

	payload []byte
	buffer  *Buffer
}

// Decode deserializes the result value into v, which must be a pointer.
// Returns Err when the outcome is a failure.
func (o Outcome) Decode(v any) error {
	if o.Err != nil {
		return o.Err
	}
	return codec.Unmarshal(o.payload, v)
}

// Buffer returns the transfer buffer handed back by the worker, or nil.
// The receiver owns it; the worker-side reference has been revoked.
func (o Outcome) Buffer() *Buffer { return o.buffer }

// DecodeAs is a typed convenience around Outcome.Decode.
func DecodeAs[T any](o Outcome) (T, error) {
	var v T
	if err := o.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
