package apilog

import (
	"fmt"
	"time"
)

// DefaultQueueCapacity is used when no capacity is configured.
const DefaultQueueCapacity = 50

// Service is the pipeline surface consumed by the middleware and the
// composition root. NoopService is used when logging is disabled.
type Service interface {
	// Submit hands one record to the pipeline. It never returns an
	// error: pipeline failures are confined to background logging.
	Submit(r *Record)

	// Subscribe and Unsubscribe manage synchronous fan-out subscribers.
	Subscribe(fn Subscriber)
	Unsubscribe(fn Subscriber)

	// Enabled reports whether the pipeline delivers records anywhere.
	Enabled() bool

	// Close stops the flusher and performs the final drain.
	Close() error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// QueueCapacity is the bounded buffer capacity; must be > 0 when the
	// sink path is enabled.
	QueueCapacity int

	// FlushInterval is the timer-triggered flush period; must be > 0
	// when the sink path is enabled.
	FlushInterval time.Duration

	// Sink receives drained batches. Required when SinkEnabled.
	Sink Sink

	// SinkEnabled turns on the buffered, batched delivery channel.
	SinkEnabled bool

	// DispatchEnabled turns on the synchronous fan-out channel.
	DispatchEnabled bool
}

// Pipeline delivers each submitted record over two independent channels:
// immediately to registered subscribers, and batched to the durable sink.
type Pipeline struct {
	buffer          *Buffer
	flusher         *Flusher
	dispatcher      *Dispatcher
	sink            Sink
	sinkEnabled     bool
	dispatchEnabled bool
}

// NewPipeline creates a pipeline from validated configuration. Invalid
// queue capacity or flush interval fail here, at startup, with a
// ConfigurationError.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	p := &Pipeline{
		dispatcher:      NewDispatcher(),
		sinkEnabled:     cfg.SinkEnabled,
		dispatchEnabled: cfg.DispatchEnabled,
	}

	if cfg.SinkEnabled {
		if cfg.Sink == nil {
			return nil, fmt.Errorf("sink is required when sink delivery is enabled")
		}
		buffer, err := NewBuffer(cfg.QueueCapacity)
		if err != nil {
			return nil, err
		}
		flusher, err := NewFlusher(buffer, cfg.Sink, cfg.FlushInterval)
		if err != nil {
			return nil, err
		}
		p.buffer = buffer
		p.flusher = flusher
		p.sink = cfg.Sink
	}

	return p, nil
}

// Submit delivers one record: synchronously to subscribers first, then
// into the bounded buffer. Reaching buffer capacity triggers an immediate
// flush instead of waiting for the timer. Producers never observe
// pipeline errors.
func (p *Pipeline) Submit(r *Record) {
	if r == nil {
		return
	}
	metrics.recordsSubmitted.Inc()

	if p.dispatchEnabled {
		p.dispatcher.Dispatch(r)
	}

	if p.sinkEnabled {
		full := p.buffer.Enqueue(r)
		metrics.queueDepth.Set(float64(p.buffer.Len()))
		if full {
			p.flusher.Kick()
		}
	}
}

// Subscribe registers a fan-out subscriber.
func (p *Pipeline) Subscribe(fn Subscriber) {
	p.dispatcher.Subscribe(fn)
}

// Unsubscribe removes all occurrences of a fan-out subscriber.
func (p *Pipeline) Unsubscribe(fn Subscriber) {
	p.dispatcher.Unsubscribe(fn)
}

// Enabled reports whether at least one delivery channel is active.
func (p *Pipeline) Enabled() bool {
	return p.sinkEnabled || p.dispatchEnabled
}

// Close stops the flusher (final drain included) and closes the sink.
func (p *Pipeline) Close() error {
	var flushErr error
	if p.flusher != nil {
		flushErr = p.flusher.Close()
	}
	if p.sink != nil {
		if err := p.sink.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}

// NoopService is a pipeline that does nothing, used when logging is
// disabled entirely.
type NoopService struct{}

// Submit does nothing
func (NoopService) Submit(*Record) {}

// Subscribe does nothing
func (NoopService) Subscribe(Subscriber) {}

// Unsubscribe does nothing
func (NoopService) Unsubscribe(Subscriber) {}

// Enabled always reports false
func (NoopService) Enabled() bool { return false }

// Close does nothing
func (NoopService) Close() error { return nil }
