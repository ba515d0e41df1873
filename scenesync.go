package scenesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/history"
	"github.com/aretw0/scenesync/pkg/notify"
	"github.com/aretw0/scenesync/pkg/patch"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/registry"
	"github.com/aretw0/scenesync/pkg/scene"
	"github.com/google/uuid"
)

// Replica is one copy of a replicated scene document. It owns the document,
// its undo history, the outbound notification service and the inbound patch
// applier, and serializes every access behind a single lock.
type Replica struct {
	mu sync.Mutex

	id           string
	logger       *slog.Logger
	hooks        domain.Hooks
	registry     *registry.Registry
	visual       ports.Visual
	clock        notify.Clock
	historyLimit int
	windowSize   int
	notifyCfg    notify.Config
	snapshot     *domain.EntitySnapshot
	sinks        []namedSink

	doc      *scene.Document
	notifier *notify.Service
	applier  *patch.Applier
	closed   bool
}

type namedSink struct {
	name string
	sink ports.EnvelopeSink
}

// Option configures a Replica.
type Option func(*Replica)

// WithID names the replica in logs. Defaults to a random UUID.
func WithID(id string) Option {
	return func(r *Replica) {
		r.id = id
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = logger
	}
}

// WithHooks registers observability hooks on every component.
func WithHooks(h domain.Hooks) Option {
	return func(r *Replica) {
		r.hooks = r.hooks.Merge(h)
	}
}

// WithRegistry replaces the default entity type registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Replica) {
		r.registry = reg
	}
}

// WithVisual sets the visual layer redrawn after undo, redo and inbound patches.
func WithVisual(v ports.Visual) Option {
	return func(r *Replica) {
		r.visual = v
	}
}

// WithClock replaces the scheduler clock.
func WithClock(c notify.Clock) Option {
	return func(r *Replica) {
		r.clock = c
	}
}

// WithHistoryLimit bounds the undo window. 0 keeps every transaction.
func WithHistoryLimit(n int) Option {
	return func(r *Replica) {
		r.historyLimit = n
	}
}

// WithDedupWindow sets how many recent mutation ids, applied or sent, are
// remembered to drop echoes and duplicates. Defaults to patch.DefaultWindow.
func WithDedupWindow(n int) Option {
	return func(r *Replica) {
		r.windowSize = n
	}
}

// WithSchedule sets the flush schedule.
func WithSchedule(mode notify.ScheduleMode, ms int) Option {
	return func(r *Replica) {
		r.notifyCfg.ScheduleMode = mode
		r.notifyCfg.ScheduleMs = ms
	}
}

// WithNotifyConfig sets the whole notification configuration, transports included.
func WithNotifyConfig(cfg notify.Config) Option {
	return func(r *Replica) {
		r.notifyCfg = cfg
	}
}

// WithTransports appends notification transports.
func WithTransports(ts ...ports.Transport) Option {
	return func(r *Replica) {
		r.notifyCfg.Transports = append(r.notifyCfg.Transports, ts...)
	}
}

// WithSink publishes every flushed message as a patch envelope to sink.
func WithSink(name string, sink ports.EnvelopeSink) Option {
	return func(r *Replica) {
		r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
	}
}

// WithSnapshot seeds the document before any transport is attached, so the
// initial tree is not replicated.
func WithSnapshot(snap *domain.EntitySnapshot) Option {
	return func(r *Replica) {
		r.snapshot = snap
	}
}

// New creates a replica with an empty document or the one given by WithSnapshot.
func New(opts ...Option) (*Replica, error) {
	r := &Replica{
		logger: logging.NewNop(),
		visual: ports.NopVisual{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.registry == nil {
		r.registry = registry.NewRegistry()
	}
	r.logger = r.logger.With("replica", r.id)

	log := history.New(
		history.WithLimit(r.historyLimit),
		history.WithLogger(r.logger),
		history.WithHooks(r.hooks),
	)
	r.doc = scene.NewDocument(
		scene.WithHistory(log),
		scene.WithVisual(r.visual),
		scene.WithLogger(r.logger),
	)

	if r.snapshot != nil {
		if err := r.load(*r.snapshot); err != nil {
			return nil, err
		}
	}

	cfg := r.notifyCfg
	cfg.Transports = append([]ports.Transport(nil), cfg.Transports...)
	for _, ns := range r.sinks {
		cfg.Transports = append(cfg.Transports,
			patch.NewReplicationTransport(ns.name, ns.sink, patch.WithTransportLogger(r.logger)))
	}

	window := patch.NewWindow(r.windowSize)
	notifyOpts := []notify.Option{
		notify.WithLogger(r.logger),
		notify.WithHooks(r.hooks),
		notify.WithRegistry(r.registry),
		notify.WithLocker(&r.mu),
		notify.WithIDRecorder(window),
	}
	if r.clock != nil {
		notifyOpts = append(notifyOpts, notify.WithClock(r.clock))
	}
	svc, err := notify.New(r.doc, cfg, notifyOpts...)
	if err != nil {
		return nil, fmt.Errorf("replica %s: %w", r.id, err)
	}
	r.notifier = svc

	r.applier = patch.NewApplier(r.doc,
		patch.WithRegistry(r.registry),
		patch.WithOriginTagger(svc),
		patch.WithWindow(window),
		patch.WithLogger(r.logger),
		patch.WithHooks(r.hooks),
	)
	return r, nil
}

// ID returns the replica id.
func (r *Replica) ID() string { return r.id }

// Registry returns the entity type registry.
func (r *Replica) Registry() *registry.Registry { return r.registry }

// Do runs fn as one undoable transaction under the replica lock. If fn
// returns an error or panics, its changes are rolled back.
func (r *Replica) Do(name string, fn func(doc *scene.Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrDisposed
	}
	return r.doc.History().Execute(name, func() error {
		return fn(r.doc)
	})
}

// View runs fn under the replica lock without opening a transaction.
// fn must not keep references to nodes after it returns.
func (r *Replica) View(fn func(doc *scene.Document)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.doc)
}

// Apply replays an inbound envelope.
func (r *Replica) Apply(env domain.PatchEnvelope) (patch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return patch.Result{MutationID: env.MutationID}, domain.ErrDisposed
	}
	return r.applier.ApplyPatchEnvelope(env), nil
}

// HandleEnvelope implements ports.EnvelopeHandler.
func (r *Replica) HandleEnvelope(ctx context.Context, env domain.PatchEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.Apply(env)
	return err
}

// Undo reverts the last local transaction.
func (r *Replica) Undo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.doc.Undo()
}

// Redo re-applies the last undone transaction.
func (r *Replica) Redo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.doc.Redo()
}

// Flush delivers pending notifications now.
func (r *Replica) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier.Flush()
}

// Snapshot encodes the whole tree.
func (r *Replica) Snapshot() domain.EntitySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.Encode(r.doc.Root())
}

// Restore replaces the tree with snap. Pending notifications are flushed
// first; the replacement itself is not undoable and reaches peers as
// ordinary structural changes.
func (r *Replica) Restore(snap domain.EntitySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrDisposed
	}
	r.notifier.Flush()

	var err error
	r.doc.History().WithoutRecording(func() {
		err = r.load(snap)
	})
	if err != nil {
		return err
	}
	r.doc.Visual().Update()
	return nil
}

// load rebuilds the tree from snap. Children are decoded before the current
// tree is touched, so a bad snapshot leaves it intact.
func (r *Replica) load(snap domain.EntitySnapshot) error {
	root := r.doc.Root()
	if snap.ID != "" && snap.ID != root.ID() {
		return fmt.Errorf("%w: snapshot root %q does not match document root %q", domain.ErrInvalidValue, snap.ID, root.ID())
	}

	children := make([]*scene.Node, 0, len(snap.Children))
	for _, cs := range snap.Children {
		n, err := r.registry.Decode(cs)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		children = append(children, n)
	}

	for root.Children().Len() > 0 {
		root.RemoveChild(root.Children().Head())
	}
	if t, ok := r.registry.Lookup(root.TypeTag()); ok {
		if err := r.registry.Fill(root, t, snap); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	for _, n := range children {
		root.AddChild(n)
	}
	r.logger.Debug("document loaded", "entities", len(children))
	return nil
}

// Close delivers pending notifications and detaches the notifier. Later
// mutations through the replica return domain.ErrDisposed.
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.notifier.Flush()
	r.notifier.Dispose()
	r.closed = true
	return nil
}
