// Package scope implements the RUM scope tree: a hierarchy of stateful
// command handlers rooted at an ApplicationScope which owns the current
// SessionScope, which owns ViewScopes, which own ActionScopes.
//
// The tree is driven by a strictly serialized command stream: every Process
// call for a given tree must happen on the same goroutine (or be otherwise
// serialized by the caller). Scopes hold no locks. Shared state that other
// goroutines need (session identifier, session state) is published through
// the rumcontext.Provider.
package scope

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/event"
	"goa.design/rum/runtime/rum/identity"
	"goa.design/rum/runtime/rum/rumcontext"
	"goa.design/rum/runtime/rum/telemetry"
)

type (
	// Scope is one node of the scope tree.
	Scope interface {
		// Process handles cmd and reports whether the scope must be kept.
		// A scope returning false is removed by its parent and receives no
		// further commands.
		Process(ctx context.Context, cmd command.Command) bool
		// Context returns the identifiers of the scope and its ancestors.
		Context() Context
	}

	// Context carries the identifiers a scope contributes to the events
	// produced beneath it. Each scope fills its own fields on top of its
	// parent's Context.
	Context struct {
		ApplicationID string
		SessionID     string
		// IsSessionActive is false once the session ended.
		IsSessionActive bool
		ViewID          string
		ViewName        string
		ViewPath        string
		// ActionID identifies the pending user action, if any.
		ActionID string
	}

	// Dependencies groups the collaborators and settings shared by every
	// scope of a tree.
	Dependencies struct {
		// ApplicationID identifies the RUM application.
		ApplicationID string
		// SessionSampleRate is the percentage of sessions kept, in [0,100].
		SessionSampleRate float64
		// BackgroundEventTracking enables the synthetic background view.
		BackgroundEventTracking bool
		// SessionTimeout is the inactivity duration after which a session
		// expires. Defaults to DefaultSessionTimeout.
		SessionTimeout time.Duration
		// SessionMaxDuration is the maximum lifetime of a session. Defaults
		// to DefaultSessionMaxDuration.
		SessionMaxDuration time.Duration
		// ActionMaxDuration bounds continuous user actions. Defaults to
		// DefaultActionMaxDuration.
		ActionMaxDuration time.Duration

		// Provider is the shared context read when building events and
		// updated with the session state. Required.
		Provider *rumcontext.Provider
		// Writer receives the produced events. Required.
		Writer event.Writer
		// CrashContext receives session state changes. Optional.
		CrashContext crashcontext.Sink
		// Identities resolves view host liveness when transferring views to
		// a new session. Defaults to a resolver reporting every host alive.
		Identities identity.Resolver
		// Sampler draws the per-session sampling decision. Defaults to
		// RandomSampler.
		Sampler Sampler
		// NewID generates scope identifiers. Defaults to random UUIDs.
		NewID func() string

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer

		// offViewWarning throttles the "no view" diagnostic.
		offViewWarning *rate.Sometimes
	}

	// Sampler makes the sampling decision of a session.
	Sampler interface {
		// Sample reports whether a session must be kept given a sample rate
		// expressed as a percentage.
		Sample(rate float64) bool
	}

	// SamplerFunc adapts a function to Sampler.
	SamplerFunc func(rate float64) bool

	aliveResolver struct{}
)

const (
	// DefaultSessionTimeout is the inactivity timeout of a session.
	DefaultSessionTimeout = 15 * time.Minute
	// DefaultSessionMaxDuration is the maximum lifetime of a session.
	DefaultSessionMaxDuration = 4 * time.Hour
	// DefaultActionMaxDuration bounds continuous user actions.
	DefaultActionMaxDuration = 10 * time.Second
)

// Sample implements Sampler.
func (f SamplerFunc) Sample(rate float64) bool { return f(rate) }

// RandomSampler returns a Sampler drawing uniformly in [0,100) and keeping
// the session when the draw is below the rate.
func RandomSampler() Sampler {
	return SamplerFunc(func(r float64) bool {
		return rand.Float64()*100 < r
	})
}

func (aliveResolver) Alive(command.ViewIdentity) bool { return true }

func (d Dependencies) withDefaults() *Dependencies {
	if d.SessionTimeout <= 0 {
		d.SessionTimeout = DefaultSessionTimeout
	}
	if d.SessionMaxDuration <= 0 {
		d.SessionMaxDuration = DefaultSessionMaxDuration
	}
	if d.ActionMaxDuration <= 0 {
		d.ActionMaxDuration = DefaultActionMaxDuration
	}
	if d.Provider == nil {
		d.Provider = rumcontext.NewProvider(rumcontext.Context{ApplicationID: d.ApplicationID})
	}
	if d.Writer == nil {
		d.Writer = event.WriterFunc(func(context.Context, event.Event) error { return nil })
	}
	if d.Identities == nil {
		d.Identities = aliveResolver{}
	}
	if d.Sampler == nil {
		d.Sampler = RandomSampler()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Logger == nil {
		d.Logger = telemetry.NewNoopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NewNoopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.NewNoopTracer()
	}
	d.offViewWarning = &rate.Sometimes{First: 5, Interval: time.Minute}
	return &d
}

// write sends e to the writer, logging failures. Scopes never fail on a
// writer error.
func (d *Dependencies) write(ctx context.Context, e event.Event) {
	if err := d.Writer.Write(ctx, e); err != nil {
		d.Logger.Error(ctx, "failed to write RUM event", "type", string(e.Type), "err", err)
	}
}
