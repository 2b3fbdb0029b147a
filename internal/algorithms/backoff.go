// Package algorithms holds the delay strategies the supervisor uses
// between reassignments of a task whose worker crashed.
package algorithms

import (
	"math/rand"
	"sync"
	"time"
)

// maxShift bounds the exponent so the bit shift cannot overflow.
const maxShift = 63

// Kind selects a backoff algorithm.
type Kind int

const (
	// Exponential doubles the delay on every attempt (default).
	Exponential Kind = iota
	// Jittered is exponential with random jitter to avoid synchronized
	// reassignment bursts after a correlated crash.
	Jittered
	// Decorrelated is AWS-style decorrelated jitter: each delay is drawn
	// from [initial, 3*previous], capped at the maximum.
	Decorrelated
)

// Backoff computes the delay before a retry attempt.
type Backoff interface {
	// NextDelay returns the delay before attempt attemptNumber
	// (0-indexed: 0 is the first reassignment after the first crash).
	NextDelay(attemptNumber int) time.Duration

	// Reset clears internal state; called when a fresh task is assigned.
	Reset()
}

// New constructs a Backoff of the given kind. jitterFactor is only used by
// Jittered and is clamped to [0, 1].
func New(kind Kind, initial, max time.Duration, jitterFactor float64) Backoff {
	switch kind {
	case Jittered:
		return &jittered{
			initial: initial,
			max:     max,
			factor:  clamp(jitterFactor, 0, 1),
			rng:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- crypto rand not needed for jitter
		}
	case Decorrelated:
		return &decorrelated{
			initial: initial,
			max:     max,
			prev:    initial,
			rng:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- crypto rand not needed for jitter
		}
	default:
		return &exponential{initial: initial, max: max}
	}
}

type exponential struct {
	initial time.Duration
	max     time.Duration
}

func (e *exponential) NextDelay(attemptNumber int) time.Duration {
	return expDelay(attemptNumber, e.initial, e.max)
}

func (e *exponential) Reset() {}

type jittered struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	mu      sync.Mutex
	rng     *rand.Rand
}

func (j *jittered) NextDelay(attemptNumber int) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	base := expDelay(attemptNumber, j.initial, j.max)

	j.mu.Lock()
	mult := 1.0 + (j.rng.Float64()*2-1)*j.factor
	j.mu.Unlock()

	return clamp(time.Duration(float64(base)*mult), 0, j.max)
}

func (j *jittered) Reset() {}

type decorrelated struct {
	initial time.Duration
	max     time.Duration
	mu      sync.Mutex
	prev    time.Duration
	rng     *rand.Rand
}

func (d *decorrelated) NextDelay(attemptNumber int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attemptNumber <= 0 {
		d.prev = d.initial
		return d.initial
	}

	upper := min(d.prev*3, d.max)
	span := upper - d.initial
	if span <= 0 {
		d.prev = d.initial
		return d.initial
	}

	delay := d.initial + time.Duration(d.rng.Int63n(int64(span)))
	d.prev = delay
	return delay
}

func (d *decorrelated) Reset() {
	d.mu.Lock()
	d.prev = d.initial
	d.mu.Unlock()
}

func expDelay(attemptNumber int, initial, max time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber >= maxShift {
		return max
	}

	delay := time.Duration(int64(1)<<uint(attemptNumber)) * initial
	if delay > max || delay < 0 {
		return max
	}
	return delay
}

func clamp[T ~int64 | ~float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
