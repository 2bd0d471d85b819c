package apilog

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-capacity, thread-safe FIFO holding records pending a
// batch flush. Multiple producers may call Enqueue concurrently; exactly
// one consumer (the flusher) calls DrainAll. A full buffer blocks
// producers instead of dropping records.
type Buffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	records  []*Record
	capacity int
}

// NewBuffer creates a buffer with the given capacity. Capacity must be
// greater than zero; anything else is a ConfigurationError at startup.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, NewConfigurationError("queue_capacity",
			fmt.Sprintf("must be greater than 0, got %d", capacity))
	}
	b := &Buffer{
		records:  make([]*Record, 0, capacity),
		capacity: capacity,
	}
	b.notFull = sync.NewCond(&b.mu)
	return b, nil
}

// Enqueue appends a record, blocking while the buffer is at capacity.
// It returns true when the buffer has reached capacity after the append,
// signalling the caller to trigger an immediate flush instead of waiting
// for the timer.
func (b *Buffer) Enqueue(r *Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.records) >= b.capacity {
		b.notFull.Wait()
	}
	b.records = append(b.records, r)
	return len(b.records) >= b.capacity
}

// DrainAll atomically removes and returns every queued record in enqueue
// order, leaving the buffer empty. Blocked producers are woken and their
// records land in the just-emptied buffer; no record is ever visible in
// two batches.
func (b *Buffer) DrainAll() []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return nil
	}
	batch := b.records
	b.records = make([]*Record, 0, b.capacity)
	b.notFull.Broadcast()
	return batch
}

// Len returns the number of records currently queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Capacity returns the fixed buffer capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}
