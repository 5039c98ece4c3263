package rumcontext

import "sync"

type (
	// Publisher pushes values to a single receiver. OS probes (network
	// monitor, carrier info, clock sync) implement Publisher and emit
	// whenever their value changes.
	Publisher[V any] interface {
		// InitialValue returns the value known when the publisher is bound.
		InitialValue() V
		// Publish sets the receiver of subsequent values, replacing any
		// previous receiver.
		Publish(receiver func(V))
		// Cancel detaches the receiver. Values emitted after Cancel returns
		// are not delivered.
		Cancel()
	}

	// Reader exposes the latest value of a source on demand.
	Reader[V any] interface {
		Read() V
	}

	// ValuePublisher is a Publisher driven by explicit Emit calls. It is safe
	// for concurrent use.
	ValuePublisher[V any] struct {
		mu       sync.Mutex
		initial  V
		receiver func(V)
	}

	// ValueReader is a Reader holding the last value passed to Set. It is
	// safe for concurrent use.
	ValueReader[V any] struct {
		mu    sync.RWMutex
		value V
	}
)

// NewValuePublisher returns a publisher whose initial value is initial.
func NewValuePublisher[V any](initial V) *ValuePublisher[V] {
	return &ValuePublisher[V]{initial: initial}
}

// InitialValue implements Publisher.
func (p *ValuePublisher[V]) InitialValue() V {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initial
}

// Publish implements Publisher.
func (p *ValuePublisher[V]) Publish(receiver func(V)) {
	p.mu.Lock()
	p.receiver = receiver
	p.mu.Unlock()
}

// Cancel implements Publisher.
func (p *ValuePublisher[V]) Cancel() {
	p.mu.Lock()
	p.receiver = nil
	p.mu.Unlock()
}

// Emit delivers v to the current receiver, if any. The value also becomes
// the initial value for future bindings.
//
// The publisher lock is held while the receiver runs so that Cancel
// returning guarantees no further delivery.
func (p *ValuePublisher[V]) Emit(v V) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initial = v
	if p.receiver != nil {
		p.receiver(v)
	}
}

// NewValueReader returns a reader holding initial.
func NewValueReader[V any](initial V) *ValueReader[V] {
	return &ValueReader[V]{value: initial}
}

// Read implements Reader.
func (r *ValueReader[V]) Read() V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set replaces the value returned by Read.
func (r *ValueReader[V]) Set(v V) {
	r.mu.Lock()
	r.value = v
	r.mu.Unlock()
}
