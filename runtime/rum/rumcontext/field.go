package rumcontext

import "time"

// Field names a typed slot of Context that can be bound to a Publisher or a
// Reader. Fields are compared by name: binding a second source to a field
// with the same name replaces the first.
type Field[V any] struct {
	name string
	set  func(*Context, V)
}

// NewField returns a Field that stores values with set.
func NewField[V any](name string, set func(*Context, V)) Field[V] {
	return Field[V]{name: name, set: set}
}

// Name returns the field name.
func (f Field[V]) Name() string { return f.name }

// Set stores v into c.
func (f Field[V]) Set(c *Context, v V) { f.set(c, v) }

var (
	// NetworkConnectionField binds Context.NetworkConnection.
	NetworkConnectionField = NewField("network_connection", func(c *Context, v *NetworkConnectionInfo) {
		c.NetworkConnection = v
	})
	// CarrierField binds Context.Carrier.
	CarrierField = NewField("carrier", func(c *Context, v *CarrierInfo) {
		c.Carrier = v
	})
	// ServerTimeOffsetField binds Context.ServerTimeOffset.
	ServerTimeOffsetField = NewField("server_time_offset", func(c *Context, v time.Duration) {
		c.ServerTimeOffset = v
	})
	// UserField binds Context.User.
	UserField = NewField("user", func(c *Context, v *UserInfo) {
		c.User = v
	})
	// AppStateField binds Context.AppState.
	AppStateField = NewField("app_state", func(c *Context, v AppState) {
		c.AppState = v
	})
	// SessionStateField binds Context.SessionState and keeps SessionID in sync.
	SessionStateField = NewField("session_state", func(c *Context, v *SessionState) {
		c.SessionState = v
		if v != nil {
			c.SessionID = v.SessionID
		}
	})
	// TrackingConsentField binds Context.TrackingConsent.
	TrackingConsentField = NewField("tracking_consent", func(c *Context, v TrackingConsent) {
		c.TrackingConsent = v
	})
)
