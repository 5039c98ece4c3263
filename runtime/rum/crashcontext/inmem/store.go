// Package inmem provides an in-memory implementation of crashcontext.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/crashcontext/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/rumcontext"
)

// Store is an in-memory implementation of crashcontext.Store. It also
// implements crashcontext.Sink so tests can observe updates synchronously.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	last    *rumcontext.SessionState
	history []rumcontext.SessionState
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Update implements crashcontext.Store.
func (s *Store) Update(_ context.Context, state rumcontext.SessionState) error {
	if state.SessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &state
	s.history = append(s.history, state)
	return nil
}

// UpdateSessionState implements crashcontext.Sink.
func (s *Store) UpdateSessionState(ctx context.Context, state rumcontext.SessionState) {
	_ = s.Update(ctx, state)
}

// Load implements crashcontext.Store.
func (s *Store) Load(_ context.Context) (rumcontext.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return rumcontext.SessionState{}, crashcontext.ErrNotFound
	}
	return *s.last, nil
}

// History returns every recorded state in update order.
func (s *Store) History() []rumcontext.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rumcontext.SessionState, len(s.history))
	copy(out, s.history)
	return out
}
