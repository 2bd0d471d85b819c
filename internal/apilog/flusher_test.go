package apilog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSink records every batch it receives and can be programmed to
// fail a fixed number of times or permanently.
type fakeSink struct {
	mu       sync.Mutex
	batches  [][]*Record
	failWith error
	failures int // number of calls to fail; -1 means always

	writes chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{writes: make(chan struct{}, 100)}
}

func (s *fakeSink) WriteBatch(_ context.Context, batch []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		select {
		case s.writes <- struct{}{}:
		default:
		}
	}()

	if s.failWith != nil && (s.failures == -1 || s.failures > 0) {
		if s.failures > 0 {
			s.failures--
		}
		return s.failWith
	}

	copied := make([]*Record, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *fakeSink) Ping(context.Context) error { return nil }
func (s *fakeSink) Close() error               { return nil }

func (s *fakeSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *fakeSink) waitForWrite(t *testing.T) {
	t.Helper()
	select {
	case <-s.writes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sink write")
	}
}

func TestNewFlusher_InvalidInterval(t *testing.T) {
	b, _ := NewBuffer(4)
	if _, err := NewFlusher(b, newFakeSink(), 0); err == nil {
		t.Error("NewFlusher with zero interval should fail")
	} else if !IsConfigurationError(err) {
		t.Errorf("error should be a configuration error, got %v", err)
	}
}

func TestFlusher_TimerFlush(t *testing.T) {
	b, _ := NewBuffer(100)
	sink := newFakeSink()

	f, err := NewFlusher(b, sink, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFlusher failed: %v", err)
	}
	defer f.Close()

	b.Enqueue(&Record{ID: "r1"})
	b.Enqueue(&Record{ID: "r2"})

	// A tick may land between the enqueues and split the batch; wait
	// until both records have arrived.
	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := sink.total(); got != 2 {
		t.Errorf("sink received %d records, want 2", got)
	}
	if b.Len() != 0 {
		t.Errorf("buffer should be empty after flush, Len = %d", b.Len())
	}
}

func TestFlusher_KickFlushesImmediately(t *testing.T) {
	b, _ := NewBuffer(100)
	sink := newFakeSink()

	// Interval long enough that only the kick can explain the write
	f, err := NewFlusher(b, sink, time.Hour)
	if err != nil {
		t.Fatalf("NewFlusher failed: %v", err)
	}
	defer f.Close()

	b.Enqueue(&Record{ID: "r1"})
	f.Kick()

	sink.waitForWrite(t)

	if got := sink.total(); got != 1 {
		t.Errorf("sink received %d records, want 1", got)
	}
}

func TestFlusher_EmptyDrainWritesNothing(t *testing.T) {
	b, _ := NewBuffer(10)
	sink := newFakeSink()

	f, _ := NewFlusher(b, sink, time.Hour)
	f.Kick()

	// Give the loop a moment to process the kick
	time.Sleep(50 * time.Millisecond)

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(sink.batches) != 0 {
		t.Errorf("empty buffer should not produce sink writes, got %d", len(sink.batches))
	}
}

func TestFlusher_RecoverableErrorDiscardsAndContinues(t *testing.T) {
	b, _ := NewBuffer(100)
	sink := newFakeSink()
	sink.failWith = errors.New("connection reset")
	sink.failures = 1

	f, _ := NewFlusher(b, sink, time.Hour)
	defer f.Close()

	b.Enqueue(&Record{ID: "lost"})
	f.Kick()
	sink.waitForWrite(t)

	// The next batch must still be delivered
	b.Enqueue(&Record{ID: "delivered"})
	f.Kick()
	sink.waitForWrite(t)

	if got := sink.total(); got != 1 {
		t.Fatalf("sink should hold exactly the post-failure record, got %d", got)
	}
	sink.mu.Lock()
	id := sink.batches[0][0].ID
	sink.mu.Unlock()
	if id != "delivered" {
		t.Errorf("delivered record ID = %q, want %q", id, "delivered")
	}
	if f.Err() != nil {
		t.Errorf("recoverable failure should not be fatal, got %v", f.Err())
	}
}

func TestFlusher_UnavailableSinkIsFatal(t *testing.T) {
	b, _ := NewBuffer(100)
	sink := newFakeSink()
	sink.failWith = fmt.Errorf("%w: table missing", ErrSinkUnavailable)
	sink.failures = -1

	f, _ := NewFlusher(b, sink, time.Hour)

	b.Enqueue(&Record{ID: "r1"})
	f.Kick()
	sink.waitForWrite(t)

	// The fatal error must surface on Err and Close
	deadline := time.Now().Add(2 * time.Second)
	for f.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !errors.Is(f.Err(), ErrSinkUnavailable) {
		t.Fatalf("Err = %v, want ErrSinkUnavailable", f.Err())
	}

	if err := f.Close(); !errors.Is(err, ErrSinkUnavailable) {
		t.Errorf("Close = %v, want ErrSinkUnavailable", err)
	}
}

func TestFlusher_CloseDrainsRemaining(t *testing.T) {
	b, _ := NewBuffer(100)
	sink := newFakeSink()

	f, _ := NewFlusher(b, sink, time.Hour)

	b.Enqueue(&Record{ID: "r1"})
	b.Enqueue(&Record{ID: "r2"})

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := sink.total(); got != 2 {
		t.Errorf("final drain delivered %d records, want 2", got)
	}
}

func TestFlusher_CloseIdempotent(t *testing.T) {
	b, _ := NewBuffer(10)
	f, _ := NewFlusher(b, newFakeSink(), time.Hour)

	if err := f.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
