// Package identity tracks the liveness of view hosts. Scopes refer to their
// host by key only; the registry answers whether the host still exists so a
// destroyed screen is never kept alive by the scope tree.
package identity

import (
	"sync"

	"goa.design/rum/runtime/rum/command"
)

type (
	// Resolver reports whether the host behind a view identity still exists.
	Resolver interface {
		Alive(id command.ViewIdentity) bool
	}

	// Registry is an in-memory Resolver fed by host lifecycle callbacks.
	// It is safe for concurrent use.
	Registry struct {
		mu    sync.RWMutex
		hosts map[string]int
	}
)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]int)}
}

// Track records that the host with the given key exists and returns its
// identity. Tracking the same key twice requires two releases.
func (r *Registry) Track(key string) command.ViewIdentity {
	r.mu.Lock()
	r.hosts[key]++
	r.mu.Unlock()
	return command.ViewIdentity{Key: key}
}

// Release records that one reference to the host with the given key is gone.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.hosts[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(r.hosts, key)
		return
	}
	r.hosts[key] = n - 1
}

// Alive implements Resolver. Static identities are always alive.
func (r *Registry) Alive(id command.ViewIdentity) bool {
	if id.Static {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hosts[id.Key]
	return ok
}
