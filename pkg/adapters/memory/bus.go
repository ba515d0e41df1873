package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// Bus is an in-process broker that delivers every published envelope to
// every subscriber, the publisher's own replica included.
//
// Each subscriber has an unbounded queue drained by its own goroutine, so
// PublishEnvelope never blocks and may be called while the publisher holds
// its replica lock.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*busSubscriber
	next   uint64
	closed bool
	logger *slog.Logger
	wg     sync.WaitGroup
}

type busSubscriber struct {
	id      uint64
	handler ports.EnvelopeHandler

	mu     sync.Mutex
	queue  []domain.PatchEnvelope
	busy   bool
	closed bool
	signal chan struct{}
	idle   *sync.Cond
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*busSubscriber),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bus")
	return b
}

// Subscribe delivers every future envelope to h, in publish order.
// The returned cancel stops delivery; queued envelopes are dropped.
func (b *Bus) Subscribe(h ports.EnvelopeHandler) (cancel func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrClosed
	}

	b.next++
	s := &busSubscriber{
		id:      b.next,
		handler: h,
		signal:  make(chan struct{}, 1),
	}
	s.idle = sync.NewCond(&s.mu)
	b.subs[s.id] = s

	b.wg.Add(1)
	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s.id)
			b.mu.Unlock()
			s.stop()
		})
	}, nil
}

// PublishEnvelope implements ports.EnvelopeSink. Envelopes are shared
// between subscribers and must be treated as read-only.
func (b *Bus) PublishEnvelope(ctx context.Context, env domain.PatchEnvelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrClosed
	}
	for _, s := range b.subs {
		s.push(env)
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Drain blocks until every subscriber has handled everything queued so far
// or ctx is done. Handlers that publish again extend the wait.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			b.mu.RLock()
			subs := make([]*busSubscriber, 0, len(b.subs))
			for _, s := range b.subs {
				subs = append(subs, s)
			}
			b.mu.RUnlock()

			settled := true
			for _, s := range subs {
				if s.wait() {
					settled = false
				}
			}
			if settled || ctx.Err() != nil {
				return
			}
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every subscriber. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*busSubscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.wg.Wait()
}

func (b *Bus) run(s *busSubscriber) {
	defer b.wg.Done()
	for range s.signal {
		for {
			env, ok := s.pop()
			if !ok {
				break
			}
			if err := s.handler.HandleEnvelope(context.Background(), env); err != nil {
				b.logger.Warn("envelope handler failed", "subscriber", s.id, "mutation_id", env.MutationID, "err", err)
			}
		}
	}
}

func (s *busSubscriber) push(env domain.PatchEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, env)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// pop takes the next envelope, marking the subscriber busy until the next
// pop finds the queue empty.
func (s *busSubscriber) pop() (domain.PatchEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		s.busy = false
		s.queue = nil
		s.idle.Broadcast()
		return domain.PatchEnvelope{}, false
	}
	env := s.queue[0]
	s.queue = s.queue[1:]
	s.busy = true
	return env, true
}

// wait blocks until the subscriber is idle and reports whether it had
// anything to do.
func (s *busSubscriber) wait() (hadWork bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && (s.busy || len(s.queue) > 0) {
		hadWork = true
		s.idle.Wait()
	}
	return hadWork
}

func (s *busSubscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.signal)
	s.idle.Broadcast()
}
