package ringbuf

import (
	"runtime"
	"sync/atomic"
)

// spin/yield phase lengths for the busy-spin-with-backoff strategy (spec
// §4.2). Never sleeps — the only blocking primitives in this package are the
// alert flag and the caller's own choice to stop polling.
const (
	spinIterations = 100
	yieldIterations = 900
)

// SequenceBarrier lets a single consumer wait for the ring's producer cursor
// to reach or pass a target sequence. Alerting it (from Stop()) wakes any
// goroutine currently blocked in WaitFor, mirroring the teacher's
// shutdownCh/select pattern in internal/disruptor/processor.go but exposed
// as its own reusable primitive per spec §4.2.
type SequenceBarrier[T any] struct {
	ring  *RingBuffer[T]
	alert atomic.Bool
}

// NewSequenceBarrier creates a barrier over ring.
func NewSequenceBarrier[T any](ring *RingBuffer[T]) *SequenceBarrier[T] {
	return &SequenceBarrier[T]{ring: ring}
}

// Alert short-circuits any in-progress or future WaitFor, causing it to
// return -1. Idempotent.
func (b *SequenceBarrier[T]) Alert() {
	b.alert.Store(true)
}

// ClearAlert resets the alert flag. Used only if a barrier is reused across
// a restart, which the engine never does (spec §4.8: "No restart after
// join — construct a new engine"), but kept for completeness/tests.
func (b *SequenceBarrier[T]) ClearAlert() {
	b.alert.Store(false)
}

// IsAlerted reports whether Alert has been called.
func (b *SequenceBarrier[T]) IsAlerted() bool {
	return b.alert.Load()
}

// WaitFor blocks until the ring's cursor reaches or exceeds target, then
// returns the observed cursor. Returns -1 immediately if alerted, either
// before the call or during the spin.
func (b *SequenceBarrier[T]) WaitFor(target int64) int64 {
	spins := 0
	for {
		if b.alert.Load() {
			return -1
		}
		cur := b.ring.Cursor()
		if cur >= target {
			return cur
		}

		spins++
		if spins > spinIterations {
			// CPU pause/yield hint: Go has no portable PAUSE intrinsic, so
			// runtime.Gosched is the idiomatic stand-in (the teacher's
			// processor.go spin-wait uses the same call for the same
			// reason).
			runtime.Gosched()
		}
		if spins > spinIterations+yieldIterations {
			spins = 0
		}
	}
}

// TryWaitFor is the non-blocking variant: it returns (-1, true) if the
// barrier is alerted, (cursor, true) if the target is already satisfied, or
// (0, false) otherwise. Used by manual-poll
// consumers (spec §4.4 "Manual poll").
func (b *SequenceBarrier[T]) TryWaitFor(target int64) (int64, bool) {
	if b.alert.Load() {
		return -1, true
	}
	cur := b.ring.Cursor()
	if cur >= target {
		return cur, true
	}
	return 0, false
}
