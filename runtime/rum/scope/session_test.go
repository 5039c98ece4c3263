package scope

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/rum/runtime/rum/command"
	"goa.design/rum/runtime/rum/event"
	"goa.design/rum/runtime/rum/identity"
	"goa.design/rum/runtime/rum/rumcontext"
	"goa.design/rum/runtime/rum/telemetry"
)

func TestSamplingConvergesToRate(t *testing.T) {
	const sessions = 20000
	for _, rate := range []float64{0, 10, 42.5, 80, 100} {
		f := newFixture(t, func(d *Dependencies) {
			d.SessionSampleRate = rate
			d.Sampler = RandomSampler()
			d.CrashContext = nil
		})
		kept := 0
		for range sessions {
			if f.session(false).IsSampled() {
				kept++
			}
		}
		got := float64(kept) / sessions * 100
		require.InDelta(t, rate, got, 1.5, "rate %v", rate)
	}
}

func TestSamplingDecisionIsStickyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a session keeps its sampling decision across commands", prop.ForAll(
		func(rate float64, offsets []int) bool {
			f := newFixture(t, func(d *Dependencies) {
				d.SessionSampleRate = rate
				d.Sampler = RandomSampler()
			})
			s := f.session(true)
			sampled := s.IsSampled()
			at := t0
			for i, off := range offsets {
				at = at.Add(time.Duration(off) * time.Second)
				var cmd command.Command = addError(at, "boom")
				if i%3 == 0 {
					cmd = startView(at, "home", "Home", nil)
				}
				if !s.Process(context.Background(), cmd) {
					return false
				}
				if s.IsSampled() != sampled {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 100),
		gen.SliceOf(gen.IntRange(0, 120)),
	))

	properties.TestingRun(t)
}

func TestSampledOutSessionSwallowsCommands(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Sampler = SamplerFunc(func(float64) bool { return false })
	})
	s := f.session(true)
	ctx := context.Background()

	require.Equal(t, uuid.Nil.String(), s.ID())
	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
	require.True(t, s.Process(ctx, tap(t0.Add(time.Second), "buy")))
	require.Empty(t, s.Views())
	require.Empty(t, f.writer.Events())
	require.False(t, s.HasTrackedAnyView())

	require.False(t, s.Process(ctx, tap(t0.Add(20*time.Minute), "late")))
	require.Equal(t, EndReasonTimeout, s.EndReason())
	require.Equal(t, uuid.Nil.String(), f.provider.Read().SessionID)
}

func TestSessionTimeout(t *testing.T) {
	cases := []struct {
		name  string
		after time.Duration
		keep  bool
	}{
		{"just before timeout", 15*time.Minute - time.Second, true},
		{"at timeout", 15 * time.Minute, false},
		{"after timeout", 16 * time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.session(true)
			ctx := context.Background()
			require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
			before := len(f.writer.Events())

			keep := s.Process(ctx, addError(t0.Add(tc.after), "boom"))

			require.Equal(t, tc.keep, keep)
			if tc.keep {
				require.Greater(t, len(f.writer.Events()), before)
				return
			}
			require.Len(t, f.writer.Events(), before, "no child must be notified")
			require.Equal(t, t0, s.LastInteraction())
			require.Equal(t, EndReasonTimeout, s.EndReason())
			require.Equal(t, 1, f.metrics.count(telemetry.MetricSessionExpired, "reason", "timeout"))
			require.False(t, s.Process(ctx, addError(t0.Add(tc.after+time.Second), "again")))
		})
	}
}

func TestSessionMaxDuration(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()
	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
	at := t0
	for at.Before(t0.Add(4*time.Hour - 10*time.Minute)) {
		at = at.Add(10 * time.Minute)
		require.True(t, s.Process(ctx, addError(at, "tick")), "at %v", at.Sub(t0))
	}
	before := len(f.writer.Events())

	require.False(t, s.Process(ctx, addError(t0.Add(4*time.Hour), "late")))
	require.Equal(t, EndReasonMaxDuration, s.EndReason())
	require.Len(t, f.writer.Events(), before)
}

func TestStartViewAlwaysCreatesView(t *testing.T) {
	f := newFixture(t)
	s := f.session(false)
	ctx := context.Background()

	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
	require.True(t, s.Process(ctx, command.StartResource{Base: command.NewBase(t0.Add(time.Second), nil), Key: "r1", URL: "https://api.example.com/cart"}))
	require.True(t, s.Process(ctx, startView(t0.Add(2*time.Second), "cart", "Cart", nil)))

	views := s.Views()
	require.Len(t, views, 2, "a view with a pending resource is kept")
	require.Equal(t, "Home", views[0].Name())
	require.False(t, views[0].IsActive())
	require.Equal(t, "Cart", views[1].Name())
	require.True(t, views[1].IsActive())
	require.Equal(t, 2, f.metrics.count(telemetry.MetricViewStarted, "kind", "explicit"))

	require.True(t, s.Process(ctx, command.StopResource{Base: command.NewBase(t0.Add(3*time.Second), nil), Key: "r1", StatusCode: 200}))
	views = s.Views()
	require.Len(t, views, 1)
	require.Equal(t, "Cart", views[0].Name())

	require.True(t, s.Process(ctx, startView(t0.Add(4*time.Second), "cart", "Cart", nil)))
	views = s.Views()
	require.Len(t, views, 1)
	require.NotEqual(t, "id-3", views[0].ID())
	require.Equal(t, 3, f.metrics.count(telemetry.MetricViewStarted, "kind", "explicit"))
}

func TestSuccessorTransfersLiveViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(true)
	require.True(t, s.Process(ctx, startView(t0, "home", "Home", map[string]any{"tab": "deals"})))
	require.True(t, s.Process(ctx, command.AddViewTiming{Base: command.NewBase(t0.Add(3*time.Second), nil), Name: "hero_loaded"}))
	original := s.Views()[0]

	renewedAt := t0.Add(16 * time.Minute)
	require.False(t, s.Process(ctx, tap(renewedAt, "buy")))

	next := NewSessionScopeFrom(ctx, s, renewedAt)
	require.NotEqual(t, s.ID(), next.ID())
	require.False(t, next.IsInitialSession())
	require.True(t, next.HasTrackedAnyView())
	require.Equal(t, renewedAt, next.StartTime())

	views := next.Views()
	require.Len(t, views, 1)
	v := views[0]
	require.NotEqual(t, original.ID(), v.ID())
	require.Equal(t, "Home", v.Name())
	require.Equal(t, "app/Home", v.Path())
	require.Equal(t, original.Identity(), v.Identity())
	require.Equal(t, map[string]any{"tab": "deals"}, v.Attributes())
	require.Equal(t, map[string]time.Duration{"hero_loaded": 3 * time.Second}, v.CustomTimings())
	require.Equal(t, renewedAt, v.StartTime())
	require.True(t, v.IsActive())

	require.True(t, next.Process(ctx, tap(renewedAt.Add(time.Second), "buy")))
	actions := f.writer.OfType(event.TypeAction)
	require.Len(t, actions, 1)
	require.Equal(t, next.ID(), actions[0].SessionID)
	require.Equal(t, v.ID(), actions[0].ViewRef.ID)
}

func TestSuccessorDropsViewsWithoutHost(t *testing.T) {
	reg := identity.NewRegistry()
	f := newFixture(t, func(d *Dependencies) { d.Identities = reg })
	ctx := context.Background()
	home := reg.Track("home")

	s := f.session(true)
	require.True(t, s.Process(ctx, command.StartView{Base: command.NewBase(t0, nil), Identity: home, Name: "Home"}))
	reg.Release("home")
	require.False(t, s.Process(ctx, tap(t0.Add(time.Hour), "buy")))

	next := NewSessionScopeFrom(ctx, s, t0.Add(time.Hour))
	require.Empty(t, next.Views())
	require.False(t, next.HasTrackedAnyView())
}

func TestSampledOutSuccessorDoesNotCarryViews(t *testing.T) {
	draws := []bool{true, false, true}
	f := newFixture(t, func(d *Dependencies) {
		d.Sampler = SamplerFunc(func(float64) bool {
			kept := draws[0]
			draws = draws[1:]
			return kept
		})
	})
	app := NewApplicationScope(f.deps)
	ctx := context.Background()

	app.Process(ctx, startView(t0, "home", "Home", nil))
	app.Process(ctx, tap(t0.Add(16*time.Minute), "a"))
	out := app.CurrentSession()
	require.False(t, out.IsSampled())
	require.Empty(t, out.Views())

	// Home is left while its session is sampled out.
	app.Process(ctx, stopView(t0.Add(17*time.Minute), "home", nil))
	app.Process(ctx, tap(t0.Add(40*time.Minute), "b"))
	in := app.CurrentSession()
	require.True(t, in.IsSampled())
	require.NotEqual(t, out, in)
	require.Empty(t, in.Views())
	require.False(t, in.HasTrackedAnyView())
	for _, e := range f.writer.Events() {
		require.NotEqual(t, in.ID(), e.SessionID)
	}
}

func TestStopResourceForStoppedViewIsNotDropped(t *testing.T) {
	f := newFixture(t)
	s := f.session(false)
	ctx := context.Background()

	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
	require.True(t, s.Process(ctx, command.StartResource{Base: command.NewBase(t0.Add(time.Second), nil), Key: "r1", URL: "https://api.example.com/items"}))
	require.True(t, s.Process(ctx, stopView(t0.Add(2*time.Second), "home", nil)))
	require.True(t, s.Process(ctx, command.StopResource{Base: command.NewBase(t0.Add(3*time.Second), nil), Key: "r1", Kind: command.ResourceXHR}))

	require.Len(t, f.writer.OfType(event.TypeResource), 1)
	require.Zero(t, f.metrics.count(telemetry.MetricCommandDropped))

	// Nothing waits for r2.
	require.True(t, s.Process(ctx, command.StopResource{Base: command.NewBase(t0.Add(4*time.Second), nil), Key: "r2"}))
	require.Equal(t, 1, f.metrics.count(telemetry.MetricCommandDropped, "command", "StopResource"))
	require.Empty(t, f.logger.warnings())
}

func TestOffViewCommandDroppedWithoutFallback(t *testing.T) {
	f := newFixture(t)
	s := f.session(false)
	ctx := context.Background()

	require.True(t, s.Process(ctx, addError(t0, "boom")))
	require.True(t, s.Process(ctx, command.StopView{Base: command.NewBase(t0.Add(time.Second), nil), Identity: command.ViewIdentity{Key: "gone"}}))

	require.Empty(t, s.Views())
	require.False(t, s.HasTrackedAnyView())
	require.Empty(t, f.writer.Events())
	require.Equal(t, 2, f.metrics.count(telemetry.MetricCommandDropped))
	require.Len(t, f.logger.warnings(), 1, "stop commands are dropped silently")
	for _, st := range f.crash.History() {
		require.False(t, st.HasTrackedAnyView)
	}
}

func TestOffViewWarningIsThrottled(t *testing.T) {
	f := newFixture(t)
	s := f.session(false)
	ctx := context.Background()
	for i := range 50 {
		s.Process(ctx, addError(t0.Add(time.Duration(i)*time.Millisecond), "boom"))
	}
	require.Len(t, f.logger.warnings(), 5)
	require.Equal(t, 50, f.metrics.count(telemetry.MetricCommandDropped))
}

func TestApplicationLaunchView(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()

	require.True(t, s.Process(ctx, tap(t0, "login")))

	views := s.Views()
	require.Len(t, views, 1)
	require.Equal(t, ApplicationLaunchViewName, views[0].Name())
	require.Equal(t, ApplicationLaunchViewIdentity, views[0].Identity())
	require.True(t, s.HasTrackedAnyView())
	actions := f.writer.OfType(event.TypeAction)
	require.Len(t, actions, 1)
	require.Equal(t, views[0].ID(), actions[0].ViewRef.ID)
	require.Equal(t, 1, f.metrics.count(telemetry.MetricViewStarted, "kind", "application_launch"))
}

func TestApplicationLaunchViewRequiresEligibleCommand(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()

	require.True(t, s.Process(ctx, command.AddViewTiming{Base: command.NewBase(t0, nil), Name: "ready"}))
	require.Empty(t, s.Views())
	require.False(t, s.HasTrackedAnyView())
}

func TestNoApplicationLaunchViewOnceAViewWasTracked(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()

	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))
	require.True(t, s.Process(ctx, stopView(t0.Add(time.Second), "home", nil)))
	require.Empty(t, s.Views())
	require.True(t, s.Process(ctx, tap(t0.Add(2*time.Second), "buy")))
	require.Empty(t, s.Views())
	require.Equal(t, 1, f.metrics.count(telemetry.MetricCommandDropped))
}

func TestBackgroundView(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.BackgroundEventTracking = true })
	f.setAppState(rumcontext.AppStateBackground)
	s := f.session(true)
	ctx := context.Background()

	require.True(t, s.Process(ctx, command.AddLongTask{Base: command.NewBase(t0, nil), Duration: time.Second}))
	require.Empty(t, s.Views(), "long tasks do not open a background view")

	require.True(t, s.Process(ctx, addError(t0.Add(time.Second), "sync failed")))
	views := s.Views()
	require.Len(t, views, 1)
	require.Equal(t, BackgroundViewName, views[0].Name())
	errs := f.writer.OfType(event.TypeError)
	require.Len(t, errs, 1)
	require.Equal(t, views[0].ID(), errs[0].ViewRef.ID)
}

func TestBackgroundViewDisabled(t *testing.T) {
	f := newFixture(t)
	f.setAppState(rumcontext.AppStateBackground)
	s := f.session(true)

	require.True(t, s.Process(context.Background(), addError(t0, "sync failed")))
	require.Empty(t, s.Views())
}

func TestHasTrackedAnyViewLatchesOnce(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()
	require.False(t, s.HasTrackedAnyView())

	at := t0
	for _, key := range []string{"home", "cart", "checkout"} {
		at = at.Add(time.Second)
		require.True(t, s.Process(ctx, startView(at, key, key, nil)))
		require.True(t, s.Process(ctx, stopView(at.Add(time.Millisecond), key, nil)))
		require.True(t, s.HasTrackedAnyView())
	}

	history := f.crash.History()
	transitions := 0
	for i := 1; i < len(history); i++ {
		require.False(t, history[i-1].HasTrackedAnyView && !history[i].HasTrackedAnyView, "latch never reverts")
		if !history[i-1].HasTrackedAnyView && history[i].HasTrackedAnyView {
			transitions++
		}
	}
	require.Equal(t, 1, transitions)
	require.Len(t, history, 2)
	require.Equal(t, rumcontext.SessionState{SessionID: s.ID(), IsInitialSession: true, HasTrackedAnyView: true}, history[1])
}

func TestSessionPublishesState(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	require.True(t, s.Process(context.Background(), startView(t0, "home", "Home", nil)))

	snap := f.provider.Read()
	require.Equal(t, s.ID(), snap.SessionID)
	require.NotNil(t, snap.SessionState)
	require.Equal(t, s.State(), *snap.SessionState)
	require.Equal(t, s.ID(), s.Context().SessionID)
	require.True(t, s.Context().IsSessionActive)
}

func TestStopSession(t *testing.T) {
	f := newFixture(t)
	s := f.session(true)
	ctx := context.Background()
	require.True(t, s.Process(ctx, startView(t0, "home", "Home", nil)))

	require.False(t, s.Process(ctx, command.StopSession{Base: command.NewBase(t0.Add(time.Second), nil)}))
	require.Equal(t, EndReasonStopped, s.EndReason())
	require.False(t, s.Context().IsSessionActive)
	require.Equal(t, 1, f.metrics.count(telemetry.MetricSessionExpired, "reason", "stopped"))
}

func TestRandomSamplerBounds(t *testing.T) {
	for range 1000 {
		require.False(t, RandomSampler().Sample(0))
		require.True(t, RandomSampler().Sample(100))
	}
}
