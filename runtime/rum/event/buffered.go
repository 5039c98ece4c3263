package event

import (
	"context"
	"errors"
	"sync"

	"goa.design/rum/runtime/rum/telemetry"
)

type (
	// Buffered is a Writer that queues events and hands them to another
	// Writer from a dedicated goroutine, so scopes never wait on a slow
	// backend. When the queue is full the event is dropped and
	// ErrBufferFull is returned.
	Buffered struct {
		next   Writer
		logger telemetry.Logger
		queue  chan queued

		mu     sync.RWMutex
		closed bool
		done   chan struct{}
	}

	queued struct {
		ctx context.Context
		e   Event
	}
)

var (
	// ErrBufferFull indicates the queue of a Buffered writer is full.
	ErrBufferFull = errors.New("event buffer full")
	// ErrWriterClosed indicates Write was called after Close.
	ErrWriterClosed = errors.New("event writer closed")
)

// DefaultBufferSize is the queue capacity used when NewBuffered is given a
// non-positive size.
const DefaultBufferSize = 512

// NewBuffered starts a Buffered writer delivering to next.
func NewBuffered(next Writer, size int, logger telemetry.Logger) *Buffered {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	b := &Buffered{
		next:   next,
		logger: logger,
		queue:  make(chan queued, size),
		done:   make(chan struct{}),
	}
	go b.drain()
	return b
}

// Write implements Writer. The context is detached from cancellation so an
// event queued under a short-lived context is still delivered.
func (b *Buffered) Write(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrWriterClosed
	}
	select {
	case b.queue <- queued{ctx: context.WithoutCancel(ctx), e: e}:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (b *Buffered) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Buffered) drain() {
	defer close(b.done)
	for q := range b.queue {
		if err := b.next.Write(q.ctx, q.e); err != nil {
			b.logger.Error(q.ctx, "event write failed", "type", string(q.e.Type), "err", err)
		}
	}
}
