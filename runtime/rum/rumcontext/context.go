// Package rumcontext holds the shared telemetry context attached to every
// outgoing RUM event and the Provider that guards it.
//
// A single Context snapshot exists per SDK lifetime. It is read and written
// from many goroutines: telemetry producers, OS probe callbacks and the
// command-processing goroutine. All access goes through a Provider which hands
// out deep copies on read and applies mutations under an exclusive lock.
package rumcontext

import (
	"maps"
	"slices"
	"time"
)

type (
	// Context is the snapshot of environment and session metadata. Values
	// returned by Provider.Read are deep copies and may be retained freely.
	Context struct {
		// ApplicationID identifies the RUM application.
		ApplicationID string
		// Service is the name of the instrumented service.
		Service string
		// Env is the deployment environment (e.g. "prod").
		Env string
		// Version is the application version.
		Version string
		// Source identifies the client platform (e.g. "ios", "android").
		Source string
		// SDKVersion is the version of the RUM client library.
		SDKVersion string
		// Device describes the host device.
		Device DeviceInfo
		// SessionID is the identifier of the current RUM session. Empty until
		// the first session starts.
		SessionID string
		// SessionState is the last known state of the current session.
		SessionState *SessionState
		// ServerTimeOffset is the difference between server and device clocks.
		ServerTimeOffset time.Duration
		// NetworkConnection describes the current connectivity, nil when unknown.
		NetworkConnection *NetworkConnectionInfo
		// Carrier describes the cellular carrier, nil when unknown.
		Carrier *CarrierInfo
		// User identifies the current user, nil when anonymous.
		User *UserInfo
		// AppState is the application lifecycle state.
		AppState AppState
		// TrackingConsent is the user's consent to data collection.
		TrackingConsent TrackingConsent
	}

	// SessionState is the small immutable summary of a session persisted to
	// the crash context whenever it changes.
	SessionState struct {
		// SessionID is the session identifier (nil UUID when sampled out).
		SessionID string `json:"session_id" bson:"session_id"`
		// IsInitialSession is true for the first session of the process.
		IsInitialSession bool `json:"is_initial_session" bson:"is_initial_session"`
		// HasTrackedAnyView latches true once the session started a view.
		HasTrackedAnyView bool `json:"has_tracked_any_view" bson:"has_tracked_any_view"`
	}

	// DeviceInfo describes the host device.
	DeviceInfo struct {
		Name         string
		Model        string
		Brand        string
		OSName       string
		OSVersion    string
		Architecture string
	}

	// NetworkConnectionInfo describes network reachability.
	NetworkConnectionInfo struct {
		// Reachability is the overall reachability status.
		Reachability Reachability
		// AvailableInterfaces lists the usable interfaces (wifi, cellular, ...).
		AvailableInterfaces []string
		SupportsIPv4        bool
		SupportsIPv6        bool
		// IsExpensive reports metered connections.
		IsExpensive bool
		// IsConstrained reports low data mode.
		IsConstrained bool
	}

	// CarrierInfo describes the cellular carrier.
	CarrierInfo struct {
		Name                  string
		ISOCountryCode        string
		RadioAccessTechnology string
		AllowsVOIP            bool
	}

	// UserInfo identifies the current user.
	UserInfo struct {
		ID    string
		Name  string
		Email string
		// Extra holds custom user attributes.
		Extra map[string]any
	}

	// AppState is the application lifecycle state.
	AppState string

	// Reachability is the network reachability status.
	Reachability string

	// TrackingConsent is the user's data collection consent.
	TrackingConsent string
)

const (
	// AppStateUnknown is used until the first lifecycle notification.
	AppStateUnknown AppState = ""
	// AppStateForeground indicates the application is active.
	AppStateForeground AppState = "foreground"
	// AppStateBackground indicates the application is in the background.
	AppStateBackground AppState = "background"

	ReachabilityYes   Reachability = "yes"
	ReachabilityMaybe Reachability = "maybe"
	ReachabilityNo    Reachability = "no"

	TrackingConsentPending    TrackingConsent = "pending"
	TrackingConsentGranted    TrackingConsent = "granted"
	TrackingConsentNotGranted TrackingConsent = "not_granted"
)

// IsForeground reports whether the application is in the foreground. An
// unknown state counts as foreground: processes are launched there and the
// first lifecycle notification may arrive after the first commands.
func (c Context) IsForeground() bool {
	return c.AppState != AppStateBackground
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	if c.SessionState != nil {
		st := *c.SessionState
		out.SessionState = &st
	}
	if c.NetworkConnection != nil {
		nc := *c.NetworkConnection
		nc.AvailableInterfaces = slices.Clone(c.NetworkConnection.AvailableInterfaces)
		out.NetworkConnection = &nc
	}
	if c.Carrier != nil {
		ci := *c.Carrier
		out.Carrier = &ci
	}
	if c.User != nil {
		u := *c.User
		u.Extra = maps.Clone(c.User.Extra)
		out.User = &u
	}
	return out
}
