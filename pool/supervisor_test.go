package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/worker"
)

// When a replacement worker cannot be spawned the pool can no longer honor
// its settlement guarantee through retries, so it fails and settles every
// pending task.
func TestSupervisor_ReplacementSpawnFailure(t *testing.T) {
	p := New(
		WithWorkerCount(1),
		WithRetryLimit(2),
		WithBackoff(BackoffExponential, time.Millisecond, 5*time.Millisecond))

	if err := p.Register("panic", func(_ context.Context, _ *Invocation) (any, error) {
		panic("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	spawnErr := errors.New("cannot create OS thread")
	realSpawn := p.spawnFn
	var spawned atomic.Int32
	p.spawnFn = func(cfg worker.Config) (*worker.Handle, error) {
		if spawned.Add(1) > 1 {
			return nil, spawnErr
		}
		return realSpawn(cfg)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = p.ShutdownNow() })

	fut, err := p.Submit("panic", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := fut.GetWithContext(ctx)
	if err != nil {
		t.Fatal("task did not settle after pool failure")
	}
	if !errors.Is(o.Err, ErrPoolClosed) || !errors.Is(o.Err, spawnErr) {
		t.Fatalf("expected outcome to carry ErrPoolClosed and the spawn fault, got %v", o.Err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := p.Submit("panic", nil); errors.Is(err, ErrPoolClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failed pool kept accepting submissions")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSupervisor_InitialSpawnFailure(t *testing.T) {
	p := New(WithWorkerCount(2))
	if err := p.Register("echo", func(_ context.Context, _ *Invocation) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	spawnErr := errors.New("cannot create OS thread")
	p.spawnFn = func(worker.Config) (*worker.Handle, error) {
		return nil, spawnErr
	}

	if err := p.Start(context.Background()); !errors.Is(err, spawnErr) {
		t.Fatalf("expected start to surface the spawn fault, got %v", err)
	}
	if _, err := p.Submit("echo", nil); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after failed start, got %v", err)
	}
}
