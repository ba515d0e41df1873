package memory

import (
	"sync"
	"sync/atomic"

	"github.com/aretw0/scenesync/pkg/domain"
)

// Broadcaster is a notification transport with a changing set of listeners,
// such as server-sent event streams. Send never blocks: a listener whose
// buffer is full misses the message and the drop is counted.
type Broadcaster struct {
	name    string
	mu      sync.RWMutex
	subs    map[uint64]chan domain.Message
	next    uint64
	dropped atomic.Uint64
}

// NewBroadcaster creates a broadcaster identified by name.
func NewBroadcaster(name string) *Broadcaster {
	return &Broadcaster{
		name: name,
		subs: make(map[uint64]chan domain.Message),
	}
}

// Name implements ports.Named.
func (b *Broadcaster) Name() string { return b.name }

// Send implements ports.Transport.
func (b *Broadcaster) Send(msg domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Listen registers a listener with the given buffer. The channel is closed
// by cancel.
func (b *Broadcaster) Listen(buffer int) (<-chan domain.Message, func()) {
	ch := make(chan domain.Message, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Listeners returns the number of registered listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Recorder is a transport that keeps every message it is sent.
type Recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
	err  error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// FailWith makes subsequent sends record the message and return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Send implements ports.Transport.
func (r *Recorder) Send(msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

// Messages returns a copy of what was sent so far.
func (r *Recorder) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.msgs...)
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
