package apilog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushInterval is used when no interval is configured.
const DefaultFlushInterval = 10 * time.Second

// flushWriteTimeout bounds a single sink write. A hung sink stalls the
// flusher, not the producers, until the buffer itself fills.
const flushWriteTimeout = 30 * time.Second

// errFlusherStopped signals the run loop to exit after a fatal sink error.
var errFlusherStopped = errors.New("flusher stopped")

// Flusher is the background consumer of the buffer. It drains the buffer
// on a fixed interval, or immediately when Kick is called after the
// buffer reaches capacity, and writes each drained batch to the sink.
//
// A sink failure wrapping ErrSinkUnavailable is fatal: the loop stops and
// the error is surfaced by Close. Any other sink failure is logged and the
// batch discarded, bounding memory under a persistently failing sink.
type Flusher struct {
	buffer   *Buffer
	sink     Sink
	interval time.Duration

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	fatal error
}

// NewFlusher creates a flusher and starts its background goroutine.
// The interval must be greater than zero; anything else is a
// ConfigurationError at startup. Call Close during graceful shutdown to
// stop the loop and perform one final drain-and-write.
func NewFlusher(buffer *Buffer, sink Sink, interval time.Duration) (*Flusher, error) {
	if interval <= 0 {
		return nil, NewConfigurationError("flush_interval",
			"must be greater than 0")
	}

	f := &Flusher{
		buffer:   buffer,
		sink:     sink,
		interval: interval,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	f.wg.Add(1)
	go f.run()

	return f, nil
}

// Kick requests an immediate flush. It never blocks; a flush already
// pending absorbs the signal. The timer and the kick race as wake
// conditions, but both converge on the same idempotent drain.
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Err returns the fatal sink error, if any.
func (f *Flusher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fatal
}

// Close stops the wait loop, performs one final best-effort drain and sink
// write, and returns any fatal sink error. A failed final write is logged
// and accepted so shutdown never hangs on an unreachable sink. Safe to
// call multiple times.
func (f *Flusher) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()

		// Final drain: in-flight enqueues completed before wg.Wait
		// returned land in this batch.
		if err := f.flush(); err != nil && !errors.Is(err, errFlusherStopped) {
			slog.Error("final log flush failed", "error", err)
		}

		f.closeErr = f.Err()
	})
	return f.closeErr
}

// run is the flusher wait loop: armed timer, immediate-flush signal, or
// shutdown, whichever fires first.
func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.flush(); errors.Is(err, errFlusherStopped) {
				return
			}
		case <-f.kick:
			if err := f.flush(); errors.Is(err, errFlusherStopped) {
				return
			}
		case <-f.done:
			return
		}
	}
}

// flush drains the buffer and writes the batch, classifying failures.
// Returns errFlusherStopped after a fatal sink error so the loop exits.
func (f *Flusher) flush() error {
	if f.Err() != nil {
		return errFlusherStopped
	}

	batch := f.buffer.DrainAll()
	metrics.queueDepth.Set(float64(f.buffer.Len()))
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushWriteTimeout)
	defer cancel()

	err := f.sink.WriteBatch(ctx, batch)
	if err == nil {
		metrics.batchesFlushed.Inc()
		metrics.recordsFlushed.Add(float64(len(batch)))
		return nil
	}

	if errors.Is(err, ErrSinkUnavailable) {
		metrics.flushErrors.WithLabelValues("unavailable").Inc()
		slog.Error("log sink target is not provisioned; flushing stopped",
			"error", err,
			"remediation", "provision the sink target (run migrations or create the table) and restart",
		)
		f.mu.Lock()
		f.fatal = err
		f.mu.Unlock()
		return errFlusherStopped
	}

	// Recoverable write failure: discard the batch and keep going.
	metrics.flushErrors.WithLabelValues("write").Inc()
	slog.Error("failed to write log batch, discarding",
		"error", err,
		"count", len(batch),
	)
	return err
}
