package ports

import (
	"context"

	"github.com/aretw0/scenesync/pkg/domain"
)

// Transport accepts flushed notification messages.
// Send must not retain msg after returning; failures are logged by the caller, not retried.
type Transport interface {
	Send(msg domain.Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(domain.Message) error

func (f TransportFunc) Send(msg domain.Message) error { return f(msg) }

// Named is implemented by transports that want a stable name in logs and metrics.
type Named interface {
	Name() string
}

// EnvelopeSink accepts outbound patch envelopes.
type EnvelopeSink interface {
	PublishEnvelope(ctx context.Context, env domain.PatchEnvelope) error
}

// EnvelopeHandler is anything that can take an inbound patch envelope.
type EnvelopeHandler interface {
	HandleEnvelope(ctx context.Context, env domain.PatchEnvelope) error
}

// EnvelopeHandlerFunc adapts a function to EnvelopeHandler.
type EnvelopeHandlerFunc func(ctx context.Context, env domain.PatchEnvelope) error

func (f EnvelopeHandlerFunc) HandleEnvelope(ctx context.Context, env domain.PatchEnvelope) error {
	return f(ctx, env)
}
