// Package command defines the closed set of RUM commands fed into the scope
// tree. Commands are immutable once issued: scopes read them and never modify
// their attribute bags.
package command

import (
	"time"
)

type (
	// Command is implemented by every RUM command kind. The set is closed:
	// scopes dispatch on the concrete type with a type switch.
	Command interface {
		// Time is when the command was issued.
		Time() time.Time
		// Attributes returns the command attributes. Callers must not
		// modify the returned map.
		Attributes() map[string]any
		// CanStartApplicationLaunchView reports whether the command may open
		// the synthetic application-launch view when no view is active.
		CanStartApplicationLaunchView() bool
		// CanStartBackgroundView reports whether the command may open the
		// synthetic background view when no view is active.
		CanStartBackgroundView() bool

		isCommand()
	}

	// Base carries the fields shared by every command. Embed it in command
	// kinds.
	Base struct {
		// At is when the command was issued.
		At time.Time
		// Attrs holds custom attributes, last write wins per key when merged
		// into a view.
		Attrs map[string]any
	}

	// ViewIdentity identifies the host of a view (a screen, a view
	// controller) without owning it. Key is resolved through an
	// identity.Registry to find out whether the host still exists.
	ViewIdentity struct {
		// Key is the lookup key of the host.
		Key string
		// Static identities are not tied to a host object and are always
		// alive (synthetic application-launch and background views).
		Static bool
	}

	// StartView starts tracking a view.
	StartView struct {
		Base
		Identity ViewIdentity
		// Name is the human readable view name.
		Name string
		// Path is the view path (e.g. the view controller class name).
		Path string
	}

	// StopView stops tracking the view with the given identity.
	StopView struct {
		Base
		Identity ViewIdentity
	}

	// AddViewTiming records a custom timing on the active view.
	AddViewTiming struct {
		Base
		Name string
	}

	// StartUserAction starts a continuous user action (scroll, swipe).
	StartUserAction struct {
		Base
		Type ActionType
		Name string
	}

	// StopUserAction stops the pending continuous user action.
	StopUserAction struct {
		Base
		Type ActionType
		// Name overrides the action name given on start when not empty.
		Name string
	}

	// AddUserAction records a discrete user action (tap, click).
	AddUserAction struct {
		Base
		Type ActionType
		Name string
	}

	// AddError records an error.
	AddError struct {
		Base
		Message string
		Type    string
		Source  ErrorSource
		Stack   string
	}

	// StartResource starts tracking a resource load.
	StartResource struct {
		Base
		// Key identifies the resource across start and stop commands.
		Key    string
		URL    string
		Method string
	}

	// StopResource completes a resource load.
	StopResource struct {
		Base
		Key        string
		Kind       ResourceKind
		StatusCode int
		Size       int64
	}

	// StopResourceWithError completes a resource load that failed.
	StopResourceWithError struct {
		Base
		Key        string
		Message    string
		StatusCode int
	}

	// AddLongTask records a main thread freeze.
	AddLongTask struct {
		Base
		Duration time.Duration
	}

	// StopSession ends the current session. The next command starts a new
	// one.
	StopSession struct {
		Base
	}

	// ActionType is the kind of user action.
	ActionType string

	// ErrorSource is the origin of an error.
	ErrorSource string

	// ResourceKind classifies resources.
	ResourceKind string
)

const (
	ActionTap    ActionType = "tap"
	ActionClick  ActionType = "click"
	ActionScroll ActionType = "scroll"
	ActionSwipe  ActionType = "swipe"
	ActionCustom ActionType = "custom"

	ErrorSourceSource  ErrorSource = "source"
	ErrorSourceNetwork ErrorSource = "network"
	ErrorSourceCustom  ErrorSource = "custom"

	ResourceNative ResourceKind = "native"
	ResourceXHR    ResourceKind = "xhr"
	ResourceImage  ResourceKind = "image"
	ResourceOther  ResourceKind = "other"
)

// NewBase returns a Base issued at t with attrs.
func NewBase(t time.Time, attrs map[string]any) Base {
	return Base{At: t, Attrs: attrs}
}

// Time implements Command.
func (b Base) Time() time.Time { return b.At }

// Attributes implements Command.
func (b Base) Attributes() map[string]any { return b.Attrs }

// CanStartApplicationLaunchView implements Command. Commands default to not
// being eligible; kinds override.
func (Base) CanStartApplicationLaunchView() bool { return false }

// CanStartBackgroundView implements Command.
func (Base) CanStartBackgroundView() bool { return false }

func (Base) isCommand() {}

func (StartUserAction) CanStartApplicationLaunchView() bool { return true }
func (StartUserAction) CanStartBackgroundView() bool        { return true }

func (AddUserAction) CanStartApplicationLaunchView() bool { return true }
func (AddUserAction) CanStartBackgroundView() bool        { return true }

func (AddError) CanStartApplicationLaunchView() bool { return true }
func (AddError) CanStartBackgroundView() bool        { return true }

func (StartResource) CanStartApplicationLaunchView() bool { return true }
func (StartResource) CanStartBackgroundView() bool        { return true }

// Long tasks reported while in background are main thread stalls of a
// suspended app and are not worth a background view.
func (AddLongTask) CanStartApplicationLaunchView() bool { return true }

// Name returns a short name of the command kind, used in diagnostics.
func Name(c Command) string {
	switch c.(type) {
	case StartView:
		return "StartView"
	case StopView:
		return "StopView"
	case AddViewTiming:
		return "AddViewTiming"
	case StartUserAction:
		return "StartUserAction"
	case StopUserAction:
		return "StopUserAction"
	case AddUserAction:
		return "AddUserAction"
	case AddError:
		return "AddError"
	case StartResource:
		return "StartResource"
	case StopResource:
		return "StopResource"
	case StopResourceWithError:
		return "StopResourceWithError"
	case AddLongTask:
		return "AddLongTask"
	case StopSession:
		return "StopSession"
	default:
		return "Unknown"
	}
}
