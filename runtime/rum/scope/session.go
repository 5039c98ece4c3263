package scope

import (
	"context"
	"time"

	"github.com/google/uuid"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/rumcontext"
	"goa.design/rum/runtime/rum/telemetry"
)

type (
	// SessionScope tracks one RUM session: a bounded-duration group of user
	// activity subject to timeout, max duration and sampling. It owns the
	// view scopes started during the session.
	SessionScope struct {
		deps   *Dependencies
		parent Context

		id                string
		sampled           bool
		isInitialSession  bool
		hasTrackedAnyView bool
		startTime         time.Time
		lastInteraction   time.Time

		// views are kept in creation order.
		views []*ViewScope

		endReason EndReason
	}

	// EndReason tells why a session stopped accepting commands.
	EndReason string
)

const (
	// EndReasonNone is the reason of a session that has not ended.
	EndReasonNone EndReason = ""
	// EndReasonTimeout marks sessions inactive for too long.
	EndReasonTimeout EndReason = "timeout"
	// EndReasonMaxDuration marks sessions that exceeded their lifetime.
	EndReasonMaxDuration EndReason = "max_duration"
	// EndReasonStopped marks sessions ended by a StopSession command.
	EndReasonStopped EndReason = "stopped"
)

// Synthetic view identities.
var (
	ApplicationLaunchViewIdentity = command.ViewIdentity{Key: "rum/application-launch", Static: true}
	BackgroundViewIdentity        = command.ViewIdentity{Key: "rum/background", Static: true}
)

const (
	// ApplicationLaunchViewName is the name of the synthetic view collecting
	// events received before the first view.
	ApplicationLaunchViewName = "ApplicationLaunch"
	// BackgroundViewName is the name of the synthetic view collecting events
	// received in background.
	BackgroundViewName = "Background"
)

// NewSessionScope creates a session starting at startTime. The sampling
// decision is drawn once here and never re-evaluated. Unset dependencies
// take their default value.
func NewSessionScope(ctx context.Context, deps Dependencies, isInitialSession bool, startTime time.Time) *SessionScope {
	return newSessionScope(ctx, deps.withDefaults(), isInitialSession, startTime)
}

func newSessionScope(ctx context.Context, deps *Dependencies, isInitialSession bool, startTime time.Time) *SessionScope {
	sampled := deps.Sampler.Sample(deps.SessionSampleRate)
	id := uuid.Nil.String()
	if sampled {
		id = deps.NewID()
	}
	s := &SessionScope{
		deps:             deps,
		parent:           Context{ApplicationID: deps.ApplicationID},
		id:               id,
		sampled:          sampled,
		isInitialSession: isInitialSession,
		startTime:        startTime,
		lastInteraction:  startTime,
	}
	deps.Metrics.IncCounter(telemetry.MetricSessionStarted, 1, "sampled", boolTag(sampled))
	deps.Logger.Debug(ctx, "session started", "session_id", id, "sampled", sampled, "initial", isInitialSession)
	s.publishState(ctx)
	return s
}

// NewSessionScopeFrom creates the successor of an expired session. The
// successor keeps the configuration of expired, is never the initial
// session, draws a new identifier and sampling decision, and receives a
// fresh copy of every active view of expired whose host still exists,
// re-stamped with startTime. Views whose host is gone are dropped. A
// sampled-out successor receives no views: it does not track their stop
// commands, so it could not hand them over later.
func NewSessionScopeFrom(ctx context.Context, expired *SessionScope, startTime time.Time) *SessionScope {
	s := newSessionScope(ctx, expired.deps, false, startTime)
	if !s.sampled {
		return s
	}
	for _, v := range expired.views {
		if !s.deps.Identities.Alive(v.identity) {
			continue
		}
		if !v.IsActive() {
			continue
		}
		s.views = append(s.views, v.transfer(s.Context(), startTime))
		s.deps.Metrics.IncCounter(telemetry.MetricViewStarted, 1, "kind", "transferred")
	}
	s.latchTrackedView(ctx)
	return s
}

// ID returns the session identifier, the nil UUID when sampled out.
func (s *SessionScope) ID() string { return s.id }

// IsSampled reports whether the session events are kept.
func (s *SessionScope) IsSampled() bool { return s.sampled }

// IsInitialSession reports whether this is the first session of the process.
func (s *SessionScope) IsInitialSession() bool { return s.isInitialSession }

// HasTrackedAnyView reports whether the session ever owned a view.
func (s *SessionScope) HasTrackedAnyView() bool { return s.hasTrackedAnyView }

// StartTime returns when the session started.
func (s *SessionScope) StartTime() time.Time { return s.startTime }

// LastInteraction returns the time of the last processed command.
func (s *SessionScope) LastInteraction() time.Time { return s.lastInteraction }

// EndReason returns why the session ended, EndReasonNone while it is live.
func (s *SessionScope) EndReason() EndReason { return s.endReason }

// Views returns the live view scopes in creation order.
func (s *SessionScope) Views() []*ViewScope {
	out := make([]*ViewScope, len(s.views))
	copy(out, s.views)
	return out
}

// State returns the session state published to the crash context.
func (s *SessionScope) State() rumcontext.SessionState {
	return rumcontext.SessionState{
		SessionID:         s.id,
		IsInitialSession:  s.isInitialSession,
		HasTrackedAnyView: s.hasTrackedAnyView,
	}
}

// Context implements Scope. The session only contributes its identifier.
func (s *SessionScope) Context() Context {
	c := s.parent
	c.SessionID = s.id
	c.IsSessionActive = s.endReason == EndReasonNone
	return c
}

// Process implements Scope.
func (s *SessionScope) Process(ctx context.Context, cmd command.Command) bool {
	if s.endReason != EndReasonNone {
		return false
	}
	at := cmd.Time()
	switch {
	case at.Sub(s.lastInteraction) >= s.deps.SessionTimeout:
		s.end(ctx, EndReasonTimeout)
		return false
	case at.Sub(s.startTime) >= s.deps.SessionMaxDuration:
		s.end(ctx, EndReasonMaxDuration)
		return false
	}
	s.lastInteraction = at

	if _, ok := cmd.(command.StopSession); ok {
		s.end(ctx, EndReasonStopped)
		return false
	}
	if !s.sampled {
		return true
	}

	if start, ok := cmd.(command.StartView); ok {
		s.startView(ctx, start, "explicit")
	} else if !s.hasActiveView() {
		s.handleOffViewCommand(ctx, cmd)
	}

	s.views = processViews(ctx, s.views, cmd)
	return true
}

func (s *SessionScope) startView(ctx context.Context, start command.StartView, kind string) *ViewScope {
	v := newViewScope(s.deps, s.Context(), start)
	s.views = append(s.views, v)
	s.deps.Metrics.IncCounter(telemetry.MetricViewStarted, 1, "kind", kind)
	s.latchTrackedView(ctx)
	return v
}

// handleOffViewCommand applies the off-view rule to a command arriving while
// no view is active.
func (s *SessionScope) handleOffViewCommand(ctx context.Context, cmd command.Command) {
	state := s.State()
	rule := DecideOffViewEvents(RuleInput{
		SessionState:                  &state,
		AppInForeground:               s.deps.Provider.Read().IsForeground(),
		BackgroundEventTracking:       s.deps.BackgroundEventTracking,
		CanStartApplicationLaunchView: cmd.CanStartApplicationLaunchView(),
		CanStartBackgroundView:        cmd.CanStartBackgroundView(),
	})
	switch rule {
	case HandleInApplicationLaunchView:
		s.startSyntheticView(ctx, cmd, ApplicationLaunchViewIdentity, ApplicationLaunchViewName, "application_launch")
	case HandleInBackgroundView:
		s.startSyntheticView(ctx, cmd, BackgroundViewIdentity, BackgroundViewName, "background")
	default:
		if s.hasPendingWorkFor(cmd) {
			return
		}
		s.deps.Metrics.IncCounter(telemetry.MetricCommandDropped, 1, "command", command.Name(cmd))
		if !isUserFacingOffViewCommand(cmd) {
			return
		}
		s.deps.offViewWarning.Do(func() {
			s.deps.Logger.Warn(ctx,
				"RUM event dropped: no active view. Start a view before tracking events or enable background events tracking.",
				"command", command.Name(cmd), "session_id", s.id)
		})
	}
}

// startSyntheticView opens a view on behalf of cmd. The view is started at
// the time of cmd and receives its start command right away so the command
// processed next attaches to it.
func (s *SessionScope) startSyntheticView(ctx context.Context, cmd command.Command, id command.ViewIdentity, name, kind string) {
	start := command.StartView{
		Base:     command.NewBase(cmd.Time(), nil),
		Identity: id,
		Name:     name,
		Path:     id.Key,
	}
	v := s.startView(ctx, start, kind)
	v.Process(ctx, start)
}

func (s *SessionScope) hasActiveView() bool {
	for _, v := range s.views {
		if v.IsActive() {
			return true
		}
	}
	return false
}

// hasPendingWorkFor reports whether a stopped view still waits for cmd: the
// end of a resource or of a continuous action it started.
func (s *SessionScope) hasPendingWorkFor(cmd command.Command) bool {
	for _, v := range s.views {
		switch c := cmd.(type) {
		case command.StopResource:
			if _, ok := v.resources[c.Key]; ok {
				return true
			}
		case command.StopResourceWithError:
			if _, ok := v.resources[c.Key]; ok {
				return true
			}
		case command.StopUserAction:
			if v.action != nil {
				return true
			}
		}
	}
	return false
}

// latchTrackedView sets hasTrackedAnyView the first time the session owns a
// view and publishes the new state.
func (s *SessionScope) latchTrackedView(ctx context.Context) {
	if s.hasTrackedAnyView || len(s.views) == 0 {
		return
	}
	s.hasTrackedAnyView = true
	s.publishState(ctx)
}

func (s *SessionScope) publishState(ctx context.Context) {
	state := s.State()
	s.deps.Provider.Write(func(c *rumcontext.Context) {
		rumcontext.SessionStateField.Set(c, &state)
	})
	if s.deps.CrashContext != nil {
		s.deps.CrashContext.UpdateSessionState(ctx, state)
	}
}

func (s *SessionScope) end(ctx context.Context, reason EndReason) {
	s.endReason = reason
	s.deps.Metrics.IncCounter(telemetry.MetricSessionExpired, 1, "reason", string(reason))
	s.deps.Metrics.RecordTimer(telemetry.MetricSessionDuration, s.lastInteraction.Sub(s.startTime))
	s.deps.Logger.Debug(ctx, "session ended", "session_id", s.id, "reason", string(reason))
}

// processViews forwards cmd to every view and returns the views that must be
// kept, preserving their relative order.
func processViews(ctx context.Context, views []*ViewScope, cmd command.Command) []*ViewScope {
	kept := views[:0]
	for _, v := range views {
		if v.Process(ctx, cmd) {
			kept = append(kept, v)
		}
	}
	clear(views[len(kept):])
	return kept
}

// isUserFacingOffViewCommand reports whether dropping cmd deserves a
// diagnostic. Stop commands legitimately arrive after their view ended.
func isUserFacingOffViewCommand(cmd command.Command) bool {
	switch cmd.(type) {
	case command.StopView, command.StopUserAction, command.StopResource, command.StopResourceWithError:
		return false
	default:
		return true
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
