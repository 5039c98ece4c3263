package rumcontext

import (
	"context"
	"fmt"
	"sync"

	"goa.design/rum/runtime/rum/telemetry"
)

type (
	// Provider owns the single mutable Context snapshot.
	//
	// Reads return deep copies and may run concurrently with each other.
	// Writes are serialized against each other and against reads, so no
	// reader ever observes a partially applied mutation. Field bindings
	// (Subscribe, Assign) keep individual fields up to date from
	// asynchronous sources.
	Provider struct {
		mu  sync.RWMutex
		ctx Context

		// bindMu guards bindings. It is never held while calling into a
		// Publisher so that a publisher emitting concurrently with a
		// rebinding cannot deadlock.
		bindMu   sync.RWMutex
		bindings map[string]*binding

		logger telemetry.Logger
	}

	// ProviderOption configures optional Provider settings.
	ProviderOption func(*Provider)

	binding struct {
		// cancel detaches a publisher binding; nil for readers.
		cancel func()
		// apply copies a reader's latest value into a snapshot; nil for
		// publishers.
		apply func(*Context)
	}
)

// WithLogger sets the logger used to report failed writes.
func WithLogger(l telemetry.Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider returns a Provider seeded with initial.
func NewProvider(initial Context, opts ...ProviderOption) *Provider {
	p := &Provider{
		ctx:      initial.Clone(),
		bindings: make(map[string]*binding),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Read returns a consistent deep copy of the current context with the
// latest value of every assigned Reader applied.
func (p *Provider) Read() Context {
	// The stored snapshot is never mutated in place, so a shallow copy taken
	// under the lock can be cloned after releasing it.
	p.mu.RLock()
	out := p.ctx
	p.mu.RUnlock()

	p.bindMu.RLock()
	var readers []func(*Context)
	for _, b := range p.bindings {
		if b.apply != nil {
			readers = append(readers, b.apply)
		}
	}
	p.bindMu.RUnlock()
	for _, apply := range readers {
		apply(&out)
	}
	return out.Clone()
}

// Write applies fn to the context under exclusive access. fn operates on a
// private copy that replaces the shared snapshot only if fn returns
// normally: a panicking mutator is logged and leaves the context untouched.
// Values stored by fn are copied, so callers keep no alias into the
// snapshot.
func (p *Provider) Write(fn func(*Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.ctx.Clone()
	if err := safeApply(fn, &next); err != nil {
		p.logger.Error(context.Background(), "context write failed", "err", err)
		return
	}
	p.ctx = next.Clone()
}

// Close cancels every publisher binding and removes every reader binding.
func (p *Provider) Close() {
	p.bindMu.Lock()
	bindings := p.bindings
	p.bindings = make(map[string]*binding)
	p.bindMu.Unlock()
	for _, b := range bindings {
		if b.cancel != nil {
			b.cancel()
		}
	}
}

// Subscribe binds field to pub: the publisher's initial value is written
// immediately and every value it emits afterwards is written with the same
// discipline as Provider.Write. Any previous binding of the field is
// removed, canceling its publisher.
func Subscribe[V any](p *Provider, field Field[V], pub Publisher[V]) {
	p.rebind(field.Name(), &binding{cancel: pub.Cancel})
	p.Write(func(c *Context) { field.Set(c, pub.InitialValue()) })
	pub.Publish(func(v V) {
		p.Write(func(c *Context) { field.Set(c, v) })
	})
}

// Assign binds field to r: every Read reflects r's latest value. Any
// previous binding of the field is removed, canceling its publisher.
func Assign[V any](p *Provider, r Reader[V], field Field[V]) {
	p.rebind(field.Name(), &binding{apply: func(c *Context) { field.Set(c, r.Read()) }})
}

// Unbind removes the binding of the named field, canceling its publisher.
func (p *Provider) Unbind(name string) {
	p.rebind(name, nil)
}

func (p *Provider) rebind(name string, b *binding) {
	p.bindMu.Lock()
	prev := p.bindings[name]
	if b == nil {
		delete(p.bindings, name)
	} else {
		p.bindings[name] = b
	}
	p.bindMu.Unlock()
	if prev != nil && prev.cancel != nil {
		prev.cancel()
	}
}

func safeApply(fn func(*Context), c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutator panic: %v", r)
		}
	}()
	fn(c)
	return nil
}
