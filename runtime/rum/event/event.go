// Package event defines the telemetry events produced by the scope tree and
// the Writer interface through which they leave it.
package event

import (
	"context"
	"maps"
	"time"

	"goa.design/rum/runtime/rum/rumcontext"
)

type (
	// Writer receives events produced by scopes. Scopes call Write from the
	// command-processing goroutine: implementations must not block on I/O
	// (wrap slow writers with NewBuffered).
	Writer interface {
		Write(ctx context.Context, e Event) error
	}

	// WriterFunc adapts a function to Writer.
	WriterFunc func(ctx context.Context, e Event) error

	// Type identifies the kind of event.
	Type string

	// Event is one RUM telemetry event. Exactly one of View, Action, Error,
	// Resource or LongTask is set, matching Type.
	Event struct {
		Type Type `json:"type"`
		// Date is the event time corrected by the server time offset.
		Date time.Time `json:"date"`
		// ApplicationID identifies the RUM application.
		ApplicationID string `json:"application_id"`
		// SessionID identifies the session the event belongs to.
		SessionID string `json:"session_id"`
		// ViewRef identifies the view the event belongs to.
		ViewRef ViewRef `json:"view_ref"`
		// ActionID links errors and resources to the pending user action.
		ActionID string `json:"action_id,omitempty"`

		View     *View     `json:"view,omitempty"`
		Action   *Action   `json:"action,omitempty"`
		Error    *Error    `json:"error,omitempty"`
		Resource *Resource `json:"resource,omitempty"`
		LongTask *LongTask `json:"long_task,omitempty"`

		// Attributes holds custom attributes.
		Attributes map[string]any `json:"attributes,omitempty"`

		Service      string                            `json:"service,omitempty"`
		Env          string                            `json:"env,omitempty"`
		Version      string                            `json:"version,omitempty"`
		Source       string                            `json:"source,omitempty"`
		User         *rumcontext.UserInfo              `json:"usr,omitempty"`
		Connectivity *rumcontext.NetworkConnectionInfo `json:"connectivity,omitempty"`
		Carrier      *rumcontext.CarrierInfo           `json:"carrier,omitempty"`
	}

	// ViewRef identifies a view.
	ViewRef struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Path string `json:"path"`
	}

	// View is the payload of view update events.
	View struct {
		// TimeSpent is the time elapsed since the view started.
		TimeSpent time.Duration `json:"time_spent"`
		// IsActive is false once the view stopped.
		IsActive bool `json:"is_active"`
		// DocumentVersion increases with every update of the same view.
		DocumentVersion int `json:"document_version"`
		ActionCount     int `json:"action_count"`
		ErrorCount      int `json:"error_count"`
		ResourceCount   int `json:"resource_count"`
		LongTaskCount   int `json:"long_task_count"`
		// CustomTimings maps timing names to their offset from view start.
		CustomTimings map[string]time.Duration `json:"custom_timings,omitempty"`
	}

	// Action is the payload of user action events.
	Action struct {
		ID            string        `json:"id"`
		Type          string        `json:"type"`
		Name          string        `json:"name"`
		LoadingTime   time.Duration `json:"loading_time"`
		ErrorCount    int           `json:"error_count"`
		ResourceCount int           `json:"resource_count"`
	}

	// Error is the payload of error events.
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Source  string `json:"source"`
		Stack   string `json:"stack,omitempty"`
	}

	// Resource is the payload of resource events.
	Resource struct {
		URL        string        `json:"url"`
		Method     string        `json:"method,omitempty"`
		Kind       string        `json:"kind,omitempty"`
		StatusCode int           `json:"status_code,omitempty"`
		Size       int64         `json:"size,omitempty"`
		Duration   time.Duration `json:"duration"`
	}

	// LongTask is the payload of long task events.
	LongTask struct {
		Duration time.Duration `json:"duration"`
	}
)

const (
	TypeView     Type = "view"
	TypeAction   Type = "action"
	TypeError    Type = "error"
	TypeResource Type = "resource"
	TypeLongTask Type = "long_task"
)

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, e Event) error { return f(ctx, e) }

// New builds an event of type t at the given device time. Environment fields
// are copied from the context snapshot and the date is corrected by its
// server time offset.
func New(t Type, at time.Time, c rumcontext.Context) Event {
	return Event{
		Type:          t,
		Date:          at.Add(c.ServerTimeOffset),
		ApplicationID: c.ApplicationID,
		Service:       c.Service,
		Env:           c.Env,
		Version:       c.Version,
		Source:        c.Source,
		User:          c.User,
		Connectivity:  c.NetworkConnection,
		Carrier:       c.Carrier,
	}
}

// MergeAttributes returns a copy of base with every key of overrides
// applied on top (last write wins). It returns nil when both are empty.
func MergeAttributes(base, overrides map[string]any) map[string]any {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(overrides))
	maps.Copy(out, base)
	maps.Copy(out, overrides)
	return out
}
