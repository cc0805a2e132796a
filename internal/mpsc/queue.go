// Package mpsc implements a bounded, multi-producer/single-consumer queue
// with CAS-based slot reservation and sequence-stamped cells.
//
// This is the order queue of spec §4.3, generalized from the CAS claim loop
// in the teacher's internal/disruptor/sequencer.go (Next/Publish) into a
// reusable generic bounded MPSC queue with explicit per-slot stamps instead
// of a single shared gating sequence, which is what lets TryPop run
// concurrently with producers without a second lock.
package mpsc

import "sync/atomic"

const cacheLinePad = 64

// cell holds one queue slot plus its readiness stamp.
//
// Producer protocol: a producer that wins the CAS on head writes its value
// then releases the slot by storing stamp = head+1.
// Consumer protocol: the slot is readable when stamp == tail+1; after
// reading, the consumer stores stamp = tail+capacity, making the slot
// available again to the producer whose head will reach that value.
type cell[T any] struct {
	stamp atomic.Uint64
	value T
}

// Queue is a bounded multi-producer/single-consumer ring of cells.
type Queue[T any] struct {
	mask uint64
	buf  []cell[T]

	_ [cacheLinePad]byte

	head atomic.Uint64 // next sequence a producer will try to claim

	_ [cacheLinePad - 8]byte

	tail atomic.Uint64 // next sequence the single consumer will read

	_ [cacheLinePad - 8]byte
}

// New creates a Queue of the given capacity, which must be a power of two.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("mpsc: capacity must be a power of two")
	}
	q := &Queue[T]{
		mask: uint64(capacity - 1),
		buf:  make([]cell[T], capacity),
	}
	for i := range q.buf {
		q.buf[i].stamp.Store(uint64(i))
	}
	return q
}

// TryPush attempts to enqueue value without blocking. Returns false if the
// queue is full (spec §7 "Order-queue full": surfaced to the caller as a
// boolean, never retried by the queue itself).
func (q *Queue[T]) TryPush(value T) bool {
	for {
		head := q.head.Load()
		cell := &q.buf[head&q.mask]
		stamp := cell.stamp.Load()

		diff := int64(stamp) - int64(head)
		switch {
		case diff == 0:
			// Slot is empty for this round; try to claim it. With a single
			// slot the readable stamp (head+1) equals the next round's empty
			// stamp, so fullness is decided by the consumer's tail instead.
			if q.mask == 0 && int64(head-q.tail.Load()) > 0 {
				return false
			}
			if q.head.CompareAndSwap(head, head+1) {
				cell.value = value
				cell.stamp.Store(head + 1)
				return true
			}
			// Lost the race, retry.
		case diff < 0:
			// Consumer hasn't caught up to let this slot be reused: full.
			return false
		default:
			// Another producer already claimed and published this slot;
			// reload head and retry.
		}
	}
}

// TryPop attempts to dequeue the next item without blocking. Single-consumer
// contract: only one goroutine may call TryPop/PopBatch.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	tail := q.tail.Load()
	cell := &q.buf[tail&q.mask]
	stamp := cell.stamp.Load()

	if int64(stamp)-int64(tail+1) != 0 {
		return zero, false
	}

	value := cell.value
	cell.value = zero
	cell.stamp.Store(tail + uint64(len(q.buf)))
	q.tail.Store(tail + 1)
	return value, true
}

// PopBatch drains up to max items into buf (which must have length >= max),
// returning the number popped. It stops at the first empty slot.
func (q *Queue[T]) PopBatch(buf []T, max int) int {
	n := 0
	for n < max && n < len(buf) {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		buf[n] = v
		n++
	}
	return n
}

// Len estimates the number of items currently queued. Racy by nature (head
// and tail are read independently) — intended for metrics/diagnostics only.
func (q *Queue[T]) Len() int64 {
	return int64(q.head.Load() - q.tail.Load())
}

// Capacity returns the fixed number of slots.
func (q *Queue[T]) Capacity() int64 {
	return int64(len(q.buf))
}
