package scope

import (
	"context"
	"time"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/event"
)

// ActionScope tracks a continuous user action such as a scroll. It ends on
// StopUserAction or once no command reached it for ActionMaxDuration, and
// emits a single action event when it ends.
type ActionScope struct {
	deps   *Dependencies
	parent Context

	id            string
	actionType    command.ActionType
	name          string
	attributes    map[string]any
	startTime     time.Time
	lastActivity  time.Time
	errorCount    int
	resourceCount int
}

func newActionScope(deps *Dependencies, parent Context, start command.StartUserAction) *ActionScope {
	return &ActionScope{
		deps:         deps,
		parent:       parent,
		id:           deps.NewID(),
		actionType:   start.Type,
		name:         start.Name,
		attributes:   event.MergeAttributes(nil, start.Attributes()),
		startTime:    start.Time(),
		lastActivity: start.Time(),
	}
}

// ID returns the action identifier.
func (a *ActionScope) ID() string { return a.id }

// Context implements Scope.
func (a *ActionScope) Context() Context {
	c := a.parent
	c.ActionID = a.id
	return c
}

// Process implements Scope.
func (a *ActionScope) Process(ctx context.Context, cmd command.Command) bool {
	if cmd.Time().Sub(a.lastActivity) >= a.deps.ActionMaxDuration {
		a.send(ctx, a.lastActivity)
		return false
	}
	a.lastActivity = cmd.Time()
	switch c := cmd.(type) {
	case command.StopUserAction:
		if c.Name != "" {
			a.name = c.Name
		}
		a.attributes = event.MergeAttributes(a.attributes, c.Attributes())
		a.send(ctx, c.Time())
		return false
	case command.AddError, command.StopResourceWithError:
		a.errorCount++
	case command.StopResource:
		a.resourceCount++
	}
	return true
}

func (a *ActionScope) send(ctx context.Context, end time.Time) {
	e := newEvent(a.deps, event.TypeAction, a.startTime, a.Context())
	e.Action = &event.Action{
		ID:            a.id,
		Type:          string(a.actionType),
		Name:          a.name,
		LoadingTime:   end.Sub(a.startTime),
		ErrorCount:    a.errorCount,
		ResourceCount: a.resourceCount,
	}
	e.Attributes = event.MergeAttributes(nil, a.attributes)
	a.deps.write(ctx, e)
}
