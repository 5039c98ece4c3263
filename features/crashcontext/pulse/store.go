// Package pulse provides a crashcontext.Store backed by a Pulse replicated
// map. Every process joined to the map sees the last known session state of
// each application, so a crash reporter running on another node can read it.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/pulse/rmap"

	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/rumcontext"
)

type (
	// Store implements crashcontext.Store for one application.
	Store struct {
		m   replicatedMap
		key string
	}

	// replicatedMap is the subset of rmap.Map used by the store.
	replicatedMap interface {
		Get(key string) (string, bool)
		Set(ctx context.Context, key, value string) (string, error)
		Delete(ctx context.Context, key string) (string, error)
	}

	rmapReplicatedMap struct {
		m *rmap.Map
	}
)

// NewStore returns a Store keeping the session state of applicationID in m.
// The caller owns m and closes it.
func NewStore(m *rmap.Map, applicationID string) (*Store, error) {
	if m == nil {
		return nil, errors.New("replicated map is required")
	}
	return newStore(&rmapReplicatedMap{m: m}, applicationID)
}

func newStore(m replicatedMap, applicationID string) (*Store, error) {
	if applicationID == "" {
		return nil, errors.New("application id is required")
	}
	return &Store{m: m, key: applicationID}, nil
}

// Update implements crashcontext.Store.
func (s *Store) Update(ctx context.Context, state rumcontext.SessionState) error {
	if state.SessionID == "" {
		return errors.New("session id is required")
	}
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if _, err := s.m.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	return nil
}

// Load implements crashcontext.Store. It reads the local replica and never
// blocks on Redis.
func (s *Store) Load(context.Context) (rumcontext.SessionState, error) {
	v, ok := s.m.Get(s.key)
	if !ok {
		return rumcontext.SessionState{}, crashcontext.ErrNotFound
	}
	var state rumcontext.SessionState
	if err := json.Unmarshal([]byte(v), &state); err != nil {
		return rumcontext.SessionState{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

// Clear removes the session state of the application.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.m.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

func (m *rmapReplicatedMap) Get(key string) (string, bool) {
	return m.m.Get(key)
}

func (m *rmapReplicatedMap) Set(ctx context.Context, key, value string) (string, error) {
	return m.m.Set(ctx, key, value)
}

func (m *rmapReplicatedMap) Delete(ctx context.Context, key string) (string, error) {
	return m.m.Delete(ctx, key)
}
