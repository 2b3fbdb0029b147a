package pool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/taskforge/taskforge/pool"
)

// Submitting a buffer transfers ownership: the caller's reference is
// revoked, the worker mutates in place, and the mutated buffer comes back
// on the outcome.
func TestBuffer_TransferAndMutateInPlace(t *testing.T) {
	const n = 32

	p := startPool(t, map[string]pool.Handler{
		"scale": func(_ context.Context, inv *pool.Invocation) (any, error) {
			b := inv.Buffer()
			if b == nil {
				return nil, errors.New("no buffer transferred")
			}
			for i := 0; i < n; i++ {
				v, err := b.Float64At(i)
				if err != nil {
					return nil, err
				}
				if err := b.SetFloat64At(i, v*2); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	}, pool.WithWorkerCount(1))

	buf := pool.NewFloat64Buffer(n)
	for i := 0; i < n; i++ {
		if err := buf.SetFloat64At(i, float64(i)*1.5); err != nil {
			t.Fatalf("fill element %d: %v", i, err)
		}
	}

	fut, err := p.SubmitBuffer("scale", buf)
	if err != nil {
		t.Fatalf("submit buffer: %v", err)
	}

	// The caller's reference is gone the moment SubmitBuffer returns.
	if !buf.Released() {
		t.Error("submitted buffer must be released")
	}
	if _, err := buf.Bytes(); !errors.Is(err, pool.ErrBufferReleased) {
		t.Errorf("expected ErrBufferReleased, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("released buffer must report length 0, got %d", buf.Len())
	}

	o := mustGet(t, fut)
	if o.Err != nil {
		t.Fatalf("task failed: %v", o.Err)
	}
	out := o.Buffer()
	if out == nil {
		t.Fatal("expected the mutated buffer on the outcome")
	}
	for i := 0; i < n; i++ {
		v, err := out.Float64At(i)
		if err != nil {
			t.Fatalf("read element %d: %v", i, err)
		}
		if want := float64(i) * 3.0; v != want {
			t.Errorf("element %d: got %v, expected %v", i, v, want)
		}
	}
}

// A handler for a copy-semantics task can still hand a fresh buffer back.
func TestBuffer_HandlerReturnsFreshBuffer(t *testing.T) {
	p := startPool(t, map[string]pool.Handler{
		"make": func(_ context.Context, inv *pool.Invocation) (any, error) {
			var n int
			if err := inv.Decode(&n); err != nil {
				return nil, err
			}
			b := pool.NewFloat64Buffer(n)
			for i := 0; i < n; i++ {
				if err := b.SetFloat64At(i, float64(i)); err != nil {
					return nil, err
				}
			}
			return b, nil
		},
	}, pool.WithWorkerCount(1))

	fut, err := p.Submit("make", 4)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	o := mustGet(t, fut)
	if o.Err != nil {
		t.Fatalf("task failed: %v", o.Err)
	}
	out := o.Buffer()
	if out == nil {
		t.Fatal("expected a buffer on the outcome")
	}
	if out.Len() != 32 {
		t.Errorf("expected 32 bytes, got %d", out.Len())
	}
	if v, _ := out.Float64At(3); v != 3 {
		t.Errorf("element 3: got %v, expected 3", v)
	}
}

func TestBuffer_SubmitTwiceFails(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	p := startPool(t, map[string]pool.Handler{
		"hold": func(_ context.Context, _ *pool.Invocation) (any, error) {
			<-gate
			return nil, nil
		},
	}, pool.WithWorkerCount(1))

	buf := pool.NewBuffer(8)
	if _, err := p.SubmitBuffer("hold", buf); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := p.SubmitBuffer("hold", buf); !errors.Is(err, pool.ErrBufferReleased) {
		t.Fatalf("expected ErrBufferReleased on reuse, got %v", err)
	}
}

func TestBuffer_Accessors(t *testing.T) {
	buf := pool.NewBufferFrom([]byte{1, 2, 3})

	data, err := buf.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if len(data) != 3 || data[0] != 1 {
		t.Errorf("unexpected backing bytes: %v", data)
	}

	if _, err := buf.Float64At(0); err == nil {
		t.Error("expected out-of-range error on a 3-byte buffer")
	}
	if err := buf.SetFloat64At(-1, 0); err == nil {
		t.Error("expected error on negative index")
	}

	f := pool.NewFloat64Buffer(2)
	if f.Len() != 16 {
		t.Errorf("expected 16 bytes for 2 float64s, got %d", f.Len())
	}
	if err := f.SetFloat64At(1, 2.5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := f.Float64At(1); err != nil || v != 2.5 {
		t.Errorf("round trip: got %v, %v", v, err)
	}
}
