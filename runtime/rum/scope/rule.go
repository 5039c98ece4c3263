package scope

import "goa.design/rum/runtime/rum/rumcontext"

type (
	// OffViewRule is the policy applied to a command arriving while no view
	// is active.
	OffViewRule int

	// RuleInput holds everything DecideOffViewEvents looks at.
	RuleInput struct {
		// SessionState is the state of the current session, nil if unknown.
		SessionState *rumcontext.SessionState
		// AppInForeground reports whether the application is in foreground.
		AppInForeground bool
		// BackgroundEventTracking reports whether background views are
		// enabled.
		BackgroundEventTracking bool
		// CanStartApplicationLaunchView reports whether the command may open
		// the application-launch view.
		CanStartApplicationLaunchView bool
		// CanStartBackgroundView reports whether the command may open the
		// background view.
		CanStartBackgroundView bool
	}
)

const (
	// DoNotHandle drops the command.
	DoNotHandle OffViewRule = iota
	// HandleInApplicationLaunchView starts the application-launch view and
	// attaches the command to it.
	HandleInApplicationLaunchView
	// HandleInBackgroundView starts the background view and attaches the
	// command to it.
	HandleInBackgroundView
)

// DecideOffViewEvents decides how to handle a command arriving while no view
// is active. It has no side effects.
//
// The application-launch view is only used in the foreground, by the first
// session of the process and before that session tracked any view. The
// background view is only used in the background, when enabled.
func DecideOffViewEvents(in RuleInput) OffViewRule {
	if st := in.SessionState; st != nil && st.IsInitialSession && !st.HasTrackedAnyView {
		if in.AppInForeground && in.CanStartApplicationLaunchView {
			return HandleInApplicationLaunchView
		}
	}
	if in.BackgroundEventTracking && !in.AppInForeground && in.CanStartBackgroundView {
		return HandleInBackgroundView
	}
	return DoNotHandle
}

// String returns the rule name.
func (r OffViewRule) String() string {
	switch r {
	case HandleInApplicationLaunchView:
		return "application_launch_view"
	case HandleInBackgroundView:
		return "background_view"
	default:
		return "do_not_handle"
	}
}
