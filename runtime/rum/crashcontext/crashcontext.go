// Package crashcontext persists the last known session state so a crash
// reporter running after a process restart can tell which session a crash
// belongs to and whether that session ever tracked a view.
package crashcontext

import (
	"context"
	"errors"

	"goa.design/rum/runtime/rum/rumcontext"
)

type (
	// Store persists the last known session state.
	//
	// Store implementations may perform I/O. The scope tree never calls a
	// Store directly; it goes through a Reporter.
	Store interface {
		// Update records state as the last known session state.
		Update(ctx context.Context, state rumcontext.SessionState) error
		// Load returns the last known session state.
		// Returns ErrNotFound when no state was recorded.
		Load(ctx context.Context) (rumcontext.SessionState, error)
	}

	// Sink receives session state changes from the scope tree. Implementations
	// must not block.
	Sink interface {
		UpdateSessionState(ctx context.Context, state rumcontext.SessionState)
	}
)

// ErrNotFound indicates no session state has been recorded.
var ErrNotFound = errors.New("session state not found")
