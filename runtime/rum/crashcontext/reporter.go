package crashcontext

import (
	"context"
	"sync"

	"goa.design/rum/runtime/rum/rumcontext"
	"goa.design/rum/runtime/rum/telemetry"
)

// Reporter is a Sink persisting session states into a Store from a
// dedicated goroutine. Updates are coalesced: when the Store is slower than
// the scope tree only the latest pending state is written.
type Reporter struct {
	store  Store
	logger telemetry.Logger

	mu      sync.Mutex
	pending *rumcontext.SessionState
	ctx     context.Context
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewReporter starts a Reporter writing to store.
func NewReporter(store Store, logger telemetry.Logger) *Reporter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	r := &Reporter{
		store:  store,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// UpdateSessionState implements Sink. It never blocks.
func (r *Reporter) UpdateSessionState(ctx context.Context, state rumcontext.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = &state
	r.ctx = context.WithoutCancel(ctx)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close flushes the pending state and stops the reporter goroutine. It
// returns early if ctx is done first.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.wake)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer close(r.done)
	for range r.wake {
		r.flush()
	}
	r.flush()
}

func (r *Reporter) flush() {
	r.mu.Lock()
	state, ctx := r.pending, r.ctx
	r.pending = nil
	r.mu.Unlock()
	if state == nil {
		return
	}
	if err := r.store.Update(ctx, *state); err != nil {
		r.logger.Error(ctx, "crash context update failed", "session_id", state.SessionID, "err", err)
	}
}
