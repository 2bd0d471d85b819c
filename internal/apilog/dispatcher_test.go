package apilog

import (
	"testing"
)

func TestDispatcher_SubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()

	var got []string
	d.Subscribe(func(r *Record) { got = append(got, "a:"+r.ID) })
	d.Subscribe(func(r *Record) { got = append(got, "b:"+r.ID) })

	d.Dispatch(&Record{ID: "r1"})

	if len(got) != 2 || got[0] != "a:r1" || got[1] != "b:r1" {
		t.Errorf("subscribers invoked in wrong order or count: %v", got)
	}
}

func TestDispatcher_DuplicateSubscription(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	fn := func(*Record) { calls++ }
	d.Subscribe(fn)
	d.Subscribe(fn)

	d.Dispatch(&Record{ID: "r1"})
	if calls != 2 {
		t.Errorf("duplicate subscriber should be invoked twice, got %d", calls)
	}

	// Unsubscribe removes all occurrences
	d.Unsubscribe(fn)
	d.Dispatch(&Record{ID: "r2"})
	if calls != 2 {
		t.Errorf("unsubscribed callback should not be invoked, got %d calls", calls)
	}
}

func TestDispatcher_UnsubscribeUnknown(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(func(*Record) {})

	// Removing a never-registered callback is a no-op
	d.Unsubscribe(func(*Record) {})
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	d := NewDispatcher()

	var after bool
	d.Subscribe(func(*Record) { panic("subscriber exploded") })
	d.Subscribe(func(*Record) { after = true })

	// Must not panic the caller
	d.Dispatch(&Record{ID: "r1"})

	if !after {
		t.Error("subscriber after the panicking one should still run")
	}
}

func TestDispatcher_NilSubscriber(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(nil)
	if d.Len() != 0 {
		t.Errorf("nil subscriber should be ignored, Len = %d", d.Len())
	}
	d.Unsubscribe(nil)
	d.Dispatch(&Record{ID: "r1"})
}
