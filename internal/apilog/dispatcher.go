package apilog

import (
	"log/slog"
	"reflect"
	"sync"
)

// Subscriber receives every record produced by the builder path,
// synchronously and immediately, independent of the buffered sink path.
type Subscriber func(*Record)

// Dispatcher fans each record out to an ordered list of subscribers.
// Subscribing the same callback twice results in two invocations;
// unsubscribing removes all occurrences. A panicking subscriber never
// affects the remaining subscribers or the caller.
type Dispatcher struct {
	mu          sync.Mutex
	subscribers []Subscriber
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe appends fn to the subscriber list.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

// Unsubscribe removes all occurrences of fn, matched by function identity.
func (d *Dispatcher) Unsubscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	target := reflect.ValueOf(fn).Pointer()

	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.subscribers[:0]
	for _, s := range d.subscribers {
		if reflect.ValueOf(s).Pointer() != target {
			kept = append(kept, s)
		}
	}
	d.subscribers = kept
}

// Len returns the number of registered subscribers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

// Dispatch invokes every currently registered subscriber with r. The
// subscriber list is snapshotted at the start of the call, so concurrent
// subscribe/unsubscribe does not affect this invocation.
func (d *Dispatcher) Dispatch(r *Record) {
	d.mu.Lock()
	snapshot := make([]Subscriber, len(d.subscribers))
	copy(snapshot, d.subscribers)
	d.mu.Unlock()

	for _, fn := range snapshot {
		d.invoke(fn, r)
	}
}

// invoke calls one subscriber, swallowing a panic at the dispatcher
// boundary so one failing subscriber cannot break the others.
func (d *Dispatcher) invoke(fn Subscriber, r *Record) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.dispatchPanics.Inc()
			slog.Error("log subscriber panicked", "panic", rec, "record_id", r.ID)
		}
	}()
	fn(r)
}
