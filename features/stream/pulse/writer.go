// Package pulse exposes an event.Writer that publishes RUM events to
// goa.design/pulse streams, one stream per session. Wrap it with
// event.NewBuffered before handing it to the scope tree: publishing performs
// network I/O.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/rum/features/stream/pulse/clients/pulse"
	"goa.design/rum/runtime/rum/event"
)

type (
	// Options configures the Pulse writer.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// `rum/session/<SessionID>`.
		StreamID func(event.Event) (string, error)
		// MarshalEnvelope overrides the envelope serialization.
		MarshalEnvelope func(Envelope) ([]byte, error)
		// OnPublished is called after each successful publish. An error
		// returned by OnPublished is returned by Write.
		OnPublished func(context.Context, PublishedEvent) error
		// Now returns the publish time. Defaults to time.Now.
		Now func() time.Time
	}

	// Writer publishes RUM events into Pulse streams. It is safe for
	// concurrent use.
	Writer struct {
		client          pulse.Client
		streamID        func(event.Event) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
		onPublished     func(context.Context, PublishedEvent) error
		now             func() time.Time
	}

	// Envelope wraps RUM events published on Pulse streams.
	Envelope struct {
		// Type is the event type (view, action, error, resource, long_task).
		Type string `json:"type"`
		// ApplicationID identifies the RUM application.
		ApplicationID string `json:"application_id"`
		// SessionID identifies the session of the event.
		SessionID string `json:"session_id"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Event is the RUM event.
		Event event.Event `json:"event"`
	}

	// PublishedEvent describes a successfully published event.
	PublishedEvent struct {
		Event    event.Event
		StreamID string
		// EntryID is the Redis stream entry ID.
		EntryID string
	}
)

// NewWriter constructs a Pulse-backed event writer.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	w := &Writer{
		client:          opts.Client,
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
		now:             time.Now,
	}
	if opts.StreamID != nil {
		w.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		w.marshalEnvelope = opts.MarshalEnvelope
	}
	if opts.Now != nil {
		w.now = opts.Now
	}
	return w, nil
}

// Write implements event.Writer.
func (w *Writer) Write(ctx context.Context, e event.Event) error {
	streamID, err := w.streamID(e)
	if err != nil {
		return err
	}
	str, err := w.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:          string(e.Type),
		ApplicationID: e.ApplicationID,
		SessionID:     e.SessionID,
		Timestamp:     w.now().UTC(),
		Event:         e,
	}
	payload, err := w.marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	id, err := str.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if w.onPublished != nil {
		return w.onPublished(ctx, PublishedEvent{Event: e, StreamID: streamID, EntryID: id})
	}
	return nil
}

// Close releases resources owned by the writer.
func (w *Writer) Close(ctx context.Context) error {
	return w.client.Close(ctx)
}

func defaultStreamID(e event.Event) (string, error) {
	if e.SessionID == "" {
		return "", errors.New("event missing session id")
	}
	return SessionStreamID(e.SessionID), nil
}

// SessionStreamID returns the default stream of a session.
func SessionStreamID(sessionID string) string {
	return "rum/session/" + sessionID
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
