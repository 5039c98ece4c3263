package scope

import (
	"context"

	"goa.design/rum/runtime/rum/command"
)

// ApplicationScope is the root of the scope tree. It owns the current
// session and replaces it when it expires.
type ApplicationScope struct {
	deps    *Dependencies
	session *SessionScope
	// started is set once the initial session was created.
	started bool
}

// NewApplicationScope returns the root of a scope tree. Unset dependencies
// take their default value.
func NewApplicationScope(deps Dependencies) *ApplicationScope {
	return &ApplicationScope{deps: deps.withDefaults()}
}

// CurrentSession returns the current session, nil before the first command
// or after the session was stopped.
func (a *ApplicationScope) CurrentSession() *SessionScope { return a.session }

// Context implements Scope.
func (a *ApplicationScope) Context() Context {
	return Context{ApplicationID: a.deps.ApplicationID}
}

// Process implements Scope. The application scope is always kept.
//
// The first command starts the initial session. When the current session
// expires, its successor is built from it and processes the command so the
// command that rotated the session is not lost. A stopped session is
// dropped and the next command starts a new one.
func (a *ApplicationScope) Process(ctx context.Context, cmd command.Command) bool {
	if a.session == nil {
		a.session = newSessionScope(ctx, a.deps, !a.started, cmd.Time())
		a.started = true
	}
	if a.session.Process(ctx, cmd) {
		return true
	}
	if a.session.EndReason() == EndReasonStopped {
		a.session = nil
		return true
	}
	a.session = a.renew(ctx, cmd)
	a.session.Process(ctx, cmd)
	return true
}

func (a *ApplicationScope) renew(ctx context.Context, cmd command.Command) *SessionScope {
	expired := a.session
	ctx, span := a.deps.Tracer.Start(ctx, "rum.session.renew")
	defer span.End()
	next := NewSessionScopeFrom(ctx, expired, cmd.Time())
	span.AddEvent("session.renewed",
		"expired_session_id", expired.ID(),
		"session_id", next.ID(),
		"reason", string(expired.EndReason()),
		"transferred_views", len(next.views))
	return next
}
