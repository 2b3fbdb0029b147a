package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/taskforge/taskforge/pool"
)

const settleTimeout = 5 * time.Second

// startPool builds, registers, and starts a pool, shutting it down when
// the test ends.
func startPool(t *testing.T, fns map[string]pool.Handler, opts ...pool.Option) *pool.Pool {
	t.Helper()

	p := pool.New(opts...)
	for id, h := range fns {
		if err := p.Register(id, h); err != nil {
			t.Fatalf("register %q: %v", id, err)
		}
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() { _ = p.ShutdownNow() })
	return p
}

// mustGet fetches a future's outcome with a deadline so a settlement bug
// fails the test instead of hanging it.
func mustGet(t *testing.T, fut *pool.Future) pool.Outcome {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	o, err := fut.GetWithContext(ctx)
	if err != nil {
		t.Fatalf("task %d did not settle within %v", fut.TaskID(), settleTimeout)
	}
	return o
}

func echoHandler(_ context.Context, inv *pool.Invocation) (any, error) {
	var v int
	if err := inv.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func squareHandler(_ context.Context, inv *pool.Invocation) (any, error) {
	var n int
	if err := inv.Decode(&n); err != nil {
		return nil, err
	}
	return n * n, nil
}

// awaitSignal fails the test if ch does not receive or close in time.
func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(settleTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}
