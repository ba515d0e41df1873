package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// PubSubOption configures publishers and subscribers.
type PubSubOption func(*pubsubConfig)

type pubsubConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PubSubOption {
	return func(c *pubsubConfig) {
		c.logger = logger
	}
}

func newPubSubConfig(component string, opts []PubSubOption) pubsubConfig {
	c := pubsubConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = c.logger.With("component", component)
	return c
}

// Publisher publishes patch envelopes as JSON on a Redis channel.
// It implements ports.EnvelopeSink.
type Publisher struct {
	client  *backend.Client
	channel string
	logger  *slog.Logger
}

// NewPublisher creates a publisher for channel.
func NewPublisher(client *backend.Client, channel string, opts ...PubSubOption) *Publisher {
	cfg := newPubSubConfig("redis-publisher", opts)
	return &Publisher{client: client, channel: channel, logger: cfg.logger}
}

// PublishEnvelope implements ports.EnvelopeSink.
func (p *Publisher) PublishEnvelope(ctx context.Context, env domain.PatchEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	p.logger.Debug("envelope published", "channel", p.channel, "mutation_id", env.MutationID)
	return nil
}

// MessageTransport publishes raw notification messages as JSON. It serves
// observers that want document events rather than patches.
type MessageTransport struct {
	client  *backend.Client
	channel string
}

// NewMessageTransport creates a transport publishing on channel.
func NewMessageTransport(client *backend.Client, channel string) *MessageTransport {
	return &MessageTransport{client: client, channel: channel}
}

// Name implements ports.Named.
func (t *MessageTransport) Name() string { return "redis:" + t.channel }

// Send implements ports.Transport.
func (t *MessageTransport) Send(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return t.client.Publish(context.Background(), t.channel, data).Err()
}

// Subscriber feeds envelopes received on a Redis channel to a handler.
type Subscriber struct {
	client  *backend.Client
	channel string
	handler ports.EnvelopeHandler
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *backend.PubSub
	done   chan struct{}
}

// NewSubscriber creates a subscriber delivering to h.
func NewSubscriber(client *backend.Client, channel string, h ports.EnvelopeHandler, opts ...PubSubOption) *Subscriber {
	cfg := newPubSubConfig("redis-subscriber", opts)
	return &Subscriber{client: client, channel: channel, handler: h, logger: cfg.logger}
}

// Start subscribes and returns once Redis has confirmed the subscription.
// Envelopes are then handled one at a time on a background goroutine until
// ctx is done or Close is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub != nil {
		return fmt.Errorf("subscriber for %s already started", s.channel)
	}

	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.pubsub = ps
	s.done = make(chan struct{})

	go s.loop(ctx, ps, s.done)
	return nil
}

func (s *Subscriber) loop(ctx context.Context, ps *backend.PubSub, done chan struct{}) {
	defer close(done)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = ps.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env domain.PatchEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn("dropping malformed envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if err := s.handler.HandleEnvelope(ctx, env); err != nil {
				s.logger.Warn("envelope handler failed", "mutation_id", env.MutationID, "err", err)
			}
		}
	}
}

// Close unsubscribes and waits for the delivery goroutine to stop.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	ps, done := s.pubsub, s.done
	s.pubsub = nil
	s.mu.Unlock()
	if ps == nil {
		return nil
	}
	select {
	case <-done:
		// Stopped by its context; the pubsub is already closed.
		return nil
	default:
	}
	err := ps.Close()
	<-done
	return err
}
