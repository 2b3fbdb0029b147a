package pool

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Buffer is a binary payload moved across the worker boundary with
// transfer semantics: instead of being serialized and copied, ownership of
// the backing bytes is handed over. Once a Buffer is submitted (or
// returned from a handler), the previous holder's reference is revoked and
// every accessor fails with ErrBufferReleased.
//
// One side of the boundary holds a usable Buffer at a time, which is what
// makes in-place mutation by workers safe.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// NewBuffer allocates a zeroed buffer of n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{data: make([]byte, n)}
}

// NewBufferFrom wraps b without copying. The caller must not retain b.
func NewBufferFrom(b []byte) *Buffer {
	return &Buffer{data: b}
}

// NewFloat64Buffer allocates a buffer holding n float64 elements.
func NewFloat64Buffer(n int) *Buffer {
	return &Buffer{data: make([]byte, n*8)}
}

// Bytes returns the backing slice for in-place reads and writes.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrBufferReleased
	}
	return b.data, nil
}

// Len returns the buffer length in bytes, or 0 once released.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0
	}
	return len(b.data)
}

// Released reports whether ownership has been transferred away.
func (b *Buffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Float64At reads element i of a float64-typed buffer.
func (b *Buffer) Float64At(i int) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, ErrBufferReleased
	}
	off := i * 8
	if off < 0 || off+8 > len(b.data) {
		return 0, fmt.Errorf("pool: float64 index %d out of range", i)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b.data[off:])), nil
}

// SetFloat64At writes element i of a float64-typed buffer.
func (b *Buffer) SetFloat64At(i int, v float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrBufferReleased
	}
	off := i * 8
	if off < 0 || off+8 > len(b.data) {
		return fmt.Errorf("pool: float64 index %d out of range", i)
	}
	binary.LittleEndian.PutUint64(b.data[off:], math.Float64bits(v))
	return nil
}

// take revokes this reference and returns the backing bytes. This is the
// transfer: from here on the previous holder sees ErrBufferReleased.
func (b *Buffer) take() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrBufferReleased
	}
	b.released = true
	data := b.data
	b.data = nil
	return data, nil
}
