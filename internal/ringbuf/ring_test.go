package ringbuf

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRingBuffer_BasicOperations(t *testing.T) {
	rb := New[int](8)

	if rb.Capacity() != 8 {
		t.Fatalf("expected capacity 8, got %d", rb.Capacity())
	}
	if rb.Cursor() != NoSequence {
		t.Fatalf("expected initial cursor %d, got %d", NoSequence, rb.Cursor())
	}

	seq := rb.Next()
	if seq != 0 {
		t.Fatalf("expected first sequence 0, got %d", seq)
	}
	*rb.Get(seq) = 42
	rb.Publish(seq)

	if rb.Cursor() != 0 {
		t.Fatalf("expected cursor 0 after publish, got %d", rb.Cursor())
	}
	if got := *rb.Get(0); got != 42 {
		t.Fatalf("expected value 42, got %d", got)
	}
}

func TestRingBuffer_NotPowerOfTwoPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-power-of-two capacity")
		}
	}()
	New[int](10)
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := New[int](4)
	for i := 0; i < 10; i++ {
		seq := rb.Next()
		*rb.Get(seq) = i
		rb.Publish(seq)
	}
	if got := *rb.Get(9); got != 9 {
		t.Fatalf("expected slot to hold the latest writer at that index, got %d", got)
	}
}

func TestSequenceBarrier_WaitForReturnsOnPublish(t *testing.T) {
	rb := New[int](8)
	b := NewSequenceBarrier(rb)

	done := make(chan int64, 1)
	go func() {
		done <- b.WaitFor(3)
	}()

	for i := int64(0); i <= 3; i++ {
		seq := rb.Next()
		*rb.Get(seq) = int(i)
		rb.Publish(seq)
	}

	got := <-done
	if got < 3 {
		t.Fatalf("expected WaitFor to observe at least sequence 3, got %d", got)
	}
}

func TestSequenceBarrier_AlertUnblocksWaiters(t *testing.T) {
	rb := New[int](8)
	b := NewSequenceBarrier(rb)

	var wg sync.WaitGroup
	results := make([]int64, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.WaitFor(100)
		}(i)
	}

	b.Alert()
	wg.Wait()

	for i, r := range results {
		if r != -1 {
			t.Fatalf("waiter %d expected -1 after alert, got %d", i, r)
		}
	}
}

func TestSequenceBarrier_TryWaitFor(t *testing.T) {
	rb := New[int](8)
	b := NewSequenceBarrier(rb)

	if _, ready := b.TryWaitFor(0); ready {
		t.Fatal("expected not ready before any publish")
	}

	seq := rb.Next()
	*rb.Get(seq) = 1
	rb.Publish(seq)

	cur, ready := b.TryWaitFor(0)
	if !ready || cur != 0 {
		t.Fatalf("expected ready at cursor 0, got ready=%v cur=%d", ready, cur)
	}
}

func TestRingBuffer_SingleProducerMultiConsumer(t *testing.T) {
	const n = 1000
	rb := New[int](256)
	barriers := make([]*SequenceBarrier[int], 3)
	for i := range barriers {
		barriers[i] = NewSequenceBarrier(rb)
	}
	// The ring never checks for space, so with n > capacity the producer
	// applies backpressure itself: it never overwrites a slot that some
	// consumer has not read yet.
	progress := make([]atomic.Int64, len(barriers))
	for i := range progress {
		progress[i].Store(NoSequence)
	}

	var wg sync.WaitGroup
	for i, b := range barriers {
		wg.Add(1)
		go func(b *SequenceBarrier[int], progress *atomic.Int64) {
			defer wg.Done()
			var local int64 = NoSequence
			sum := 0
			for local < n-1 {
				avail := b.WaitFor(local + 1)
				if avail < 0 {
					return
				}
				for seq := local + 1; seq <= avail; seq++ {
					sum += *rb.Get(seq)
				}
				local = avail
				progress.Store(local)
			}
			if sum != n*(n-1)/2 {
				t.Errorf("consumer sum mismatch: got %d, want %d", sum, n*(n-1)/2)
			}
		}(b, &progress[i])
	}

	for i := 0; i < n; i++ {
		seq := rb.Next()
		for j := range progress {
			for progress[j].Load() < seq-rb.Capacity() {
				runtime.Gosched()
			}
		}
		*rb.Get(seq) = i
		rb.Publish(seq)
	}

	wg.Wait()
}
