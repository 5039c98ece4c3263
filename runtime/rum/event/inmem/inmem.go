// Package inmem provides an in-memory event.Writer.
//
// It is intended for tests and local development.
package inmem

import (
	"context"
	"sync"

	"goa.design/rum/runtime/rum/event"
)

// Writer records every event it receives. It is safe for concurrent use.
type Writer struct {
	mu     sync.RWMutex
	events []event.Event
}

// New returns an empty Writer.
func New() *Writer {
	return &Writer{}
}

// Write implements event.Writer.
func (w *Writer) Write(_ context.Context, e event.Event) error {
	w.mu.Lock()
	w.events = append(w.events, e)
	w.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in write order.
func (w *Writer) Events() []event.Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]event.Event, len(w.events))
	copy(out, w.events)
	return out
}

// OfType returns the recorded events of type t in write order.
func (w *Writer) OfType(t event.Type) []event.Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []event.Event
	for _, e := range w.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// LastView returns the most recent view update of the view with the given
// ID.
func (w *Writer) LastView(viewID string) (event.Event, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.events) - 1; i >= 0; i-- {
		e := w.events[i]
		if e.Type == event.TypeView && e.ViewRef.ID == viewID {
			return e, true
		}
	}
	return event.Event{}, false
}

// Reset discards the recorded events.
func (w *Writer) Reset() {
	w.mu.Lock()
	w.events = nil
	w.mu.Unlock()
}
