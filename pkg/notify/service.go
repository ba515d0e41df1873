// Package notify turns in-process document mutations into a coalesced,
// order-preserving stream of notification messages delivered to transports.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/reactive"
	"github.com/aretw0/scenesync/pkg/scene"
	"github.com/google/uuid"
)

// ScheduleMode selects when pending messages are flushed.
type ScheduleMode string

const (
	// ModeDebounce flushes ScheduleMs after the last event.
	ModeDebounce ScheduleMode = "debounce"
	// ModeInterval flushes ScheduleMs after the first pending event.
	ModeInterval ScheduleMode = "interval"
	// ModeImmediate flushes on every event.
	ModeImmediate ScheduleMode = "immediate"
)

// Config is the delivery configuration.
type Config struct {
	Transports   []ports.Transport
	ScheduleMode ScheduleMode
	ScheduleMs   int
}

// SnapshotEncoder serializes a subtree for add and replace records.
type SnapshotEncoder interface {
	Encode(n *scene.Node) domain.EntitySnapshot
}

// IDRecorder remembers the mutation ids this service sends, so that an
// applier sharing it drops them when they come back.
type IDRecorder interface {
	Remember(mutationID string)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock used by the scheduler.
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithHooks sets observability callbacks.
func WithHooks(h domain.Hooks) Option {
	return func(s *Service) {
		s.hooks = h
	}
}

// WithRegistry attaches entity snapshots to add and replace records.
func WithRegistry(enc SnapshotEncoder) Option {
	return func(s *Service) {
		s.encoder = enc
	}
}

// WithIDGenerator replaces the mutation id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithIDRecorder records every outgoing mutation id before it is sent.
func WithIDRecorder(r IDRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithLocker sets the lock guarding the document. Scheduled flushes run on a
// timer goroutine and take it before touching the queue.
func WithLocker(l sync.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// Service observes one document and publishes its changes.
//
// Except for timer callbacks, which take the configured locker, callers
// serialize access together with the document.
type Service struct {
	doc     *scene.Document
	cfg     Config
	logger  *slog.Logger
	clock   Clock
	hooks   domain.Hooks
	encoder SnapshotEncoder
	newID    func() string
	locker   sync.Locker
	recorder IDRecorder

	subs            map[*scene.Node]reactive.Subscription
	cancelNodes     func()
	cancelSelection func()

	pending       []domain.Message
	pendingOrigin string
	origin        string

	timer    Timer
	gen      uint64
	disposed bool
}

// New subscribes to doc's structure, every node currently in the tree and the selection.
func New(doc *scene.Document, cfg Config, opts ...Option) (*Service, error) {
	if cfg.ScheduleMode == "" {
		cfg.ScheduleMode = ModeDebounce
	}
	switch cfg.ScheduleMode {
	case ModeDebounce, ModeInterval, ModeImmediate:
	default:
		return nil, fmt.Errorf("%w: schedule mode %q", domain.ErrInvalidConfig, cfg.ScheduleMode)
	}
	if cfg.ScheduleMs < 0 {
		return nil, fmt.Errorf("%w: negative schedule interval %d", domain.ErrInvalidConfig, cfg.ScheduleMs)
	}

	s := &Service{
		doc:    doc,
		cfg:    cfg,
		logger: logging.NewNop(),
		clock:  RealClock,
		newID:  uuid.NewString,
		locker: &sync.Mutex{},
		subs:   make(map[*scene.Node]reactive.Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "notify")

	s.cancelNodes = doc.AddNodeObserver(s)
	s.observe(doc.Root())
	s.cancelSelection = doc.Selection().AddObserver(func(ids, previous []string) {
		s.enqueue(domain.NewSelectionChanged(ids, previous))
	})
	return s, nil
}

// Config returns the delivery configuration.
func (s *Service) Config() Config { return s.cfg }

// Pending returns the number of queued messages.
func (s *Service) Pending() int { return len(s.pending) }

// Observed returns the number of nodes with a live property subscription.
func (s *Service) Observed() int { return len(s.subs) }

// BeginOrigin tags events captured until the returned function is called with
// the mutation id of the envelope being applied. Tagged events keep the
// revision the envelope carried instead of advancing it. Untagged adds give
// the added entity a fresh revision, so a re-added id outranks its tombstone
// on peers.
func (s *Service) BeginOrigin(mutationID string) (end func()) {
	prev := s.origin
	s.origin = mutationID
	return func() { s.origin = prev }
}

// NodeChanged implements scene.NodeObserver.
func (s *Service) NodeChanged(records []scene.ChangeRecord) {
	if s.disposed {
		return
	}
	out := make([]domain.NodeRecord, 0, len(records))
	for _, r := range records {
		switch r.Action {
		case domain.ActionAdd:
			s.advance(r.Node)
			s.observe(r.Node)
		case domain.ActionRemove:
			s.unobserve(r.Node)
		case domain.ActionReplace:
			s.unobserve(r.Replaced)
			s.advance(r.Node)
			s.observe(r.Node)
		}
		out = append(out, s.nodeRecord(r))
	}
	s.enqueue(domain.NewNodeChanged(out))
}

// Flush delivers pending messages now.
func (s *Service) Flush() {
	if s.disposed {
		return
	}
	s.flush()
}

// Dispose unsubscribes from everything and cancels a scheduled flush.
// Pending messages are dropped. Safe to call more than once.
func (s *Service) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.stopTimer()
	if s.cancelNodes != nil {
		s.cancelNodes()
	}
	for n, sub := range s.subs {
		sub.Cancel()
		delete(s.subs, n)
	}
	if s.cancelSelection != nil {
		s.cancelSelection()
	}
	s.pending = nil
	s.logger.Debug("notification service disposed")
}

func (s *Service) observe(root *scene.Node) {
	root.Walk(func(n *scene.Node) bool {
		if _, ok := s.subs[n]; !ok {
			s.subs[n] = n.Subscribe(func(c reactive.Change) { s.onProperty(n, c) })
		}
		return true
	})
}

func (s *Service) unobserve(root *scene.Node) {
	if root == nil {
		return
	}
	root.Walk(func(n *scene.Node) bool {
		if sub, ok := s.subs[n]; ok {
			sub.Cancel()
			delete(s.subs, n)
		}
		return true
	})
}

func (s *Service) advance(n *scene.Node) {
	if s.origin == "" {
		n.AdvanceRev()
	}
}

func (s *Service) onProperty(n *scene.Node, c reactive.Change) {
	if s.disposed {
		return
	}
	var rev int64
	if s.origin == "" {
		rev = n.AdvanceRev()
	} else {
		rev = n.Rev()
	}
	s.enqueue(domain.NewPropertyChanged(n.ID(), c.Name, c.Old, c.New, rev))
}

func (s *Service) nodeRecord(r scene.ChangeRecord) domain.NodeRecord {
	out := domain.NodeRecord{
		EntityID: r.Node.ID(),
		Rev:      r.Node.Rev(),
		Action:   r.Action,
		From:     r.From,
		To:       r.To,
	}
	parent, previous := r.NewParent, r.NewPrevious
	if r.Action == domain.ActionRemove {
		parent, previous = r.OldParent, r.OldPrevious
	}
	if parent != nil {
		out.ParentID = parent.ID()
	}
	if previous != nil {
		out.PreviousID = previous.ID()
	}
	if r.Replaced != nil {
		out.ReplacedID = r.Replaced.ID()
	}
	if s.encoder != nil && (r.Action == domain.ActionAdd || r.Action == domain.ActionReplace) {
		snap := s.encoder.Encode(r.Node)
		out.Snapshot = &snap
	}
	return out
}

func (s *Service) enqueue(msg domain.Message) {
	if s.disposed {
		return
	}
	// Messages from different origins never share a batch.
	if len(s.pending) > 0 && s.pendingOrigin != s.origin {
		s.flush()
	}
	s.pendingOrigin = s.origin
	s.pending = append(s.pending, msg)
	s.schedule()
}

func (s *Service) schedule() {
	d := time.Duration(s.cfg.ScheduleMs) * time.Millisecond
	switch s.cfg.ScheduleMode {
	case ModeImmediate:
		s.flush()
	case ModeInterval:
		if s.timer == nil {
			s.startTimer(d)
		}
	default:
		s.stopTimer()
		s.startTimer(d)
	}
}

func (s *Service) startTimer(d time.Duration) {
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Service) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Service) fire(gen uint64) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.disposed || gen != s.gen {
		return
	}
	s.timer = nil
	s.flush()
}

func (s *Service) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.stopTimer()
	msgs, origin := s.pending, s.pendingOrigin
	s.pending, s.pendingOrigin = nil, ""

	msg := msgs[0]
	if len(msgs) > 1 {
		msg = domain.NewBatch(msgs)
	}
	msg.MutationID = origin
	if msg.MutationID == "" {
		msg.MutationID = s.newID()
	}
	if s.recorder != nil {
		s.recorder.Remember(msg.MutationID)
	}

	for _, tr := range s.cfg.Transports {
		if err := send(tr, msg); err != nil {
			name := transportName(tr)
			s.logger.Warn("transport send failed", "transport", name, "mutation_id", msg.MutationID, "err", err)
			if s.hooks.OnTransportError != nil {
				s.hooks.OnTransportError(&domain.TransportErrorEvent{
					EventBase:  domain.NewBase(domain.EventTransportError),
					Transport:  name,
					MutationID: msg.MutationID,
					Err:        err,
				})
			}
		}
	}

	s.logger.Debug("flushed", "mutation_id", msg.MutationID, "events", len(msgs))
	if s.hooks.OnFlush != nil {
		s.hooks.OnFlush(&domain.FlushEvent{
			EventBase:  domain.NewBase(domain.EventFlush),
			MutationID: msg.MutationID,
			Events:     len(msgs),
			Transports: len(s.cfg.Transports),
		})
	}
}

// send isolates one transport: a panic is reported as an error.
func send(tr ports.Transport, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return tr.Send(msg)
}

func transportName(tr ports.Transport) string {
	if n, ok := tr.(ports.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", tr)
}
