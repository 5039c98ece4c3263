package scope

import (
	"context"
	"maps"
	"time"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/event"
)

type (
	// ViewScope tracks one visit of a screen. A view is active from its
	// creation until it stops; it stays in the tree after stopping while a
	// user action or a resource it started is still pending.
	ViewScope struct {
		deps   *Dependencies
		parent Context

		id       string
		identity command.ViewIdentity
		name     string
		path     string

		attributes    map[string]any
		customTimings map[string]time.Duration
		startTime     time.Time

		didReceiveStartCommand bool
		isActive               bool

		actionCount     int
		errorCount      int
		resourceCount   int
		longTaskCount   int
		documentVersion int

		action    *ActionScope
		resources map[string]pendingResource
	}

	pendingResource struct {
		url    string
		method string
		start  time.Time
		attrs  map[string]any
	}
)

func newViewScope(deps *Dependencies, parent Context, start command.StartView) *ViewScope {
	return &ViewScope{
		deps:          deps,
		parent:        parent,
		id:            deps.NewID(),
		identity:      start.Identity,
		name:          start.Name,
		path:          start.Path,
		attributes:    event.MergeAttributes(nil, start.Attributes()),
		customTimings: make(map[string]time.Duration),
		startTime:     start.Time(),
		isActive:      true,
		resources:     make(map[string]pendingResource),
	}
}

// transfer returns a new active view with the same identity, name, path,
// attributes and custom timings, owned by another session and started at
// startTime.
func (v *ViewScope) transfer(parent Context, startTime time.Time) *ViewScope {
	return &ViewScope{
		deps:                   v.deps,
		parent:                 parent,
		id:                     v.deps.NewID(),
		identity:               v.identity,
		name:                   v.name,
		path:                   v.path,
		attributes:             maps.Clone(v.attributes),
		customTimings:          maps.Clone(v.customTimings),
		startTime:              startTime,
		didReceiveStartCommand: true,
		isActive:               true,
		resources:              make(map[string]pendingResource),
	}
}

// ID returns the view identifier.
func (v *ViewScope) ID() string { return v.id }

// Identity returns the identity of the view host.
func (v *ViewScope) Identity() command.ViewIdentity { return v.identity }

// Name returns the view name.
func (v *ViewScope) Name() string { return v.name }

// Path returns the view path.
func (v *ViewScope) Path() string { return v.path }

// StartTime returns when the view started.
func (v *ViewScope) StartTime() time.Time { return v.startTime }

// IsActive reports whether the view has not stopped yet.
func (v *ViewScope) IsActive() bool { return v.isActive }

// Attributes returns a copy of the view attributes.
func (v *ViewScope) Attributes() map[string]any { return maps.Clone(v.attributes) }

// CustomTimings returns a copy of the custom timings, as offsets from the
// view start.
func (v *ViewScope) CustomTimings() map[string]time.Duration { return maps.Clone(v.customTimings) }

// Context implements Scope.
func (v *ViewScope) Context() Context {
	c := v.parent
	c.ViewID = v.id
	c.ViewName = v.name
	c.ViewPath = v.path
	if v.action != nil {
		c.ActionID = v.action.id
	}
	return c
}

// Process implements Scope.
func (v *ViewScope) Process(ctx context.Context, cmd command.Command) bool {
	changed := false
	// The pending action sees the command first so that it ends before
	// events of an expired action could be linked to it.
	if v.action != nil && !v.action.Process(ctx, cmd) {
		v.action = nil
		v.actionCount++
		changed = true
	}
	switch c := cmd.(type) {
	case command.StartView:
		switch {
		case c.Identity != v.identity:
			// Another view took the screen.
			changed = v.stop(nil) || changed
		case !v.didReceiveStartCommand:
			v.didReceiveStartCommand = true
			changed = true
		default:
			// The same host restarted: this visit is over.
			changed = v.stop(nil) || changed
		}
	case command.StopView:
		if c.Identity == v.identity {
			changed = v.stop(c.Attributes()) || changed
		}
	case command.AddViewTiming:
		if v.isActive {
			v.customTimings[c.Name] = c.Time().Sub(v.startTime)
			changed = true
		}
	case command.StartUserAction:
		if v.isActive {
			v.startAction(ctx, c)
		}
	case command.AddUserAction:
		if v.isActive {
			v.addUserAction(ctx, c)
			changed = true
		}
	case command.AddError:
		if v.isActive {
			v.addError(ctx, c)
			changed = true
		}
	case command.StartResource:
		if v.isActive {
			v.resources[c.Key] = pendingResource{url: c.URL, method: c.Method, start: c.Time(), attrs: c.Attributes()}
		}
	case command.StopResource:
		changed = v.stopResource(ctx, c) || changed
	case command.StopResourceWithError:
		changed = v.stopResourceWithError(ctx, c) || changed
	case command.AddLongTask:
		if v.isActive {
			v.addLongTask(ctx, c)
			changed = true
		}
	}

	if changed {
		v.sendUpdate(ctx, cmd.Time())
	}
	return v.isActive || v.action != nil || len(v.resources) > 0
}

// stop deactivates the view and merges attrs into its attributes. It
// reports whether the view was active.
func (v *ViewScope) stop(attrs map[string]any) bool {
	if !v.isActive {
		return false
	}
	v.isActive = false
	if len(attrs) > 0 {
		v.attributes = event.MergeAttributes(v.attributes, attrs)
	}
	return true
}

func (v *ViewScope) startAction(ctx context.Context, c command.StartUserAction) {
	if v.action != nil {
		v.deps.Logger.Warn(ctx, "RUM action ignored: another continuous action is already started on this view",
			"view_id", v.id, "action_type", string(c.Type), "action_name", c.Name)
		return
	}
	v.action = newActionScope(v.deps, v.Context(), c)
}

func (v *ViewScope) addUserAction(ctx context.Context, c command.AddUserAction) {
	e := v.newEvent(event.TypeAction, c.Time())
	e.ActionID = v.deps.NewID()
	e.Action = &event.Action{ID: e.ActionID, Type: string(c.Type), Name: c.Name}
	e.Attributes = event.MergeAttributes(v.attributes, c.Attributes())
	v.actionCount++
	v.deps.write(ctx, e)
}

func (v *ViewScope) addError(ctx context.Context, c command.AddError) {
	e := v.newEvent(event.TypeError, c.Time())
	e.Error = &event.Error{Message: c.Message, Type: c.Type, Source: string(c.Source), Stack: c.Stack}
	e.Attributes = event.MergeAttributes(v.attributes, c.Attributes())
	v.errorCount++
	v.deps.write(ctx, e)
}

func (v *ViewScope) stopResource(ctx context.Context, c command.StopResource) bool {
	r, ok := v.resources[c.Key]
	if !ok {
		return false
	}
	delete(v.resources, c.Key)
	e := v.newEvent(event.TypeResource, r.start)
	e.Resource = &event.Resource{
		URL:        r.url,
		Method:     r.method,
		Kind:       string(c.Kind),
		StatusCode: c.StatusCode,
		Size:       c.Size,
		Duration:   c.Time().Sub(r.start),
	}
	e.Attributes = event.MergeAttributes(event.MergeAttributes(v.attributes, r.attrs), c.Attributes())
	v.resourceCount++
	v.deps.write(ctx, e)
	return true
}

func (v *ViewScope) stopResourceWithError(ctx context.Context, c command.StopResourceWithError) bool {
	r, ok := v.resources[c.Key]
	if !ok {
		return false
	}
	delete(v.resources, c.Key)
	e := v.newEvent(event.TypeError, c.Time())
	e.Error = &event.Error{Message: c.Message, Source: string(command.ErrorSourceNetwork)}
	e.Resource = &event.Resource{URL: r.url, Method: r.method, StatusCode: c.StatusCode, Duration: c.Time().Sub(r.start)}
	e.Attributes = event.MergeAttributes(event.MergeAttributes(v.attributes, r.attrs), c.Attributes())
	v.errorCount++
	v.deps.write(ctx, e)
	return true
}

func (v *ViewScope) addLongTask(ctx context.Context, c command.AddLongTask) {
	e := v.newEvent(event.TypeLongTask, c.Time().Add(-c.Duration))
	e.LongTask = &event.LongTask{Duration: c.Duration}
	e.Attributes = event.MergeAttributes(nil, v.attributes)
	v.longTaskCount++
	v.deps.write(ctx, e)
}

// sendUpdate emits a new version of the view event.
func (v *ViewScope) sendUpdate(ctx context.Context, at time.Time) {
	v.documentVersion++
	e := v.newEvent(event.TypeView, v.startTime)
	e.ActionID = ""
	e.View = &event.View{
		TimeSpent:       at.Sub(v.startTime),
		IsActive:        v.isActive,
		DocumentVersion: v.documentVersion,
		ActionCount:     v.actionCount,
		ErrorCount:      v.errorCount,
		ResourceCount:   v.resourceCount,
		LongTaskCount:   v.longTaskCount,
		CustomTimings:   maps.Clone(v.customTimings),
	}
	e.Attributes = event.MergeAttributes(nil, v.attributes)
	v.deps.write(ctx, e)
}

func (v *ViewScope) newEvent(t event.Type, at time.Time) event.Event {
	return newEvent(v.deps, t, at, v.Context())
}

// newEvent builds an event from the shared context snapshot and the scope
// identifiers.
func newEvent(deps *Dependencies, t event.Type, at time.Time, sc Context) event.Event {
	e := event.New(t, at, deps.Provider.Read())
	if sc.ApplicationID != "" {
		e.ApplicationID = sc.ApplicationID
	}
	e.SessionID = sc.SessionID
	e.ViewRef = event.ViewRef{ID: sc.ViewID, Name: sc.ViewName, Path: sc.ViewPath}
	e.ActionID = sc.ActionID
	return e
}
