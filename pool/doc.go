// Package pool dispatches tasks to a bounded set of isolated worker
// contexts and hands each caller a Future that settles exactly once.
//
// Inputs cross the worker boundary by value: Submit serializes the
// payload, so caller-side mutations after submission are invisible to the
// worker. For large binary data, SubmitBuffer transfers ownership of a
// Buffer instead, revoking the caller's reference without copying.
//
// The queue is bounded. When it is full, Submit fails fast with
// ErrPoolSaturated rather than blocking or growing without limit.
//
// A handler error settles only its task; a handler panic kills the worker
// context. The supervisor replaces crashed workers and reassigns their
// tasks with backoff, up to a retry limit, after which the task settles
// with WorkerCrashedError. Tasks complete in any order; each settles its
// own Future.
//
// Basic usage:
//
//	p := pool.New(pool.WithWorkerCount(4))
//	p.Register("square", func(ctx context.Context, inv *pool.Invocation) (any, error) {
//		var n int
//		if err := inv.Decode(&n); err != nil {
//			return nil, err
//		}
//		return n * n, nil
//	})
//	p.Start(context.Background())
//	defer p.Drain(10 * time.Second)
//
//	fut, err := p.Submit("square", 7)
//	if err != nil {
//		// queue full or pool closed
//	}
//	n, err := pool.DecodeAs[int](fut.Get())
package pool
