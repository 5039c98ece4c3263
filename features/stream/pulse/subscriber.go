package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/rum/features/stream/pulse/clients/pulse"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into envelopes.
	EnvelopeDecoder func([]byte) (Envelope, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "rum_subscriber".
		SinkName string
		// Buffer specifies the envelope channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes payloads. Defaults to JSON.
		Decoder EnvelopeDecoder
	}

	// Subscriber reads the RUM events published by Writer. Each
	// subscription is a Pulse sink (consumer group) on one stream.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "rum_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a sink on the stream of the given session and returns
// channels of envelopes and errors. The returned cancel function stops
// consumption and closes the sink. Both channels are closed when
// consumption stops.
//
//	envs, errs, cancel, err := sub.Subscribe(ctx, sessionID)
//	defer cancel()
//	for env := range envs {
//	    // process env.Event
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	sessionID string,
	opts ...streamopts.Sink,
) (<-chan Envelope, <-chan error, context.CancelFunc, error) {
	if sessionID == "" {
		return nil, nil, nil, errors.New("session id is required")
	}
	str, err := s.client.Stream(SessionStreamID(sessionID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	envs := make(chan Envelope, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, envs, errs)
	return envs, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

// consume forwards decoded envelopes and acks each one once delivered. It
// stops on the first decode or ack error.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Envelope, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			env, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
