// Package patch applies inbound patch envelopes to a document and encodes
// outbound notification messages as envelopes.
//
// Application is gated per entity by revision: an operation whose revision is
// older than the entity's is dropped whole. Two operations carrying the same
// revision from different replicas are not reconciled; whichever arrives last
// wins for the fields it touches.
//
// Structural operations are gated too. A remove carrying a revision is
// dropped when the entity has since moved past it, and an add of an id the
// document removed is dropped unless its snapshot is newer than the removed
// entity. Operations with revision 0 come from outside the replication loop
// and are not gated.
package patch

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/codec"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/registry"
	"github.com/aretw0/scenesync/pkg/scene"
)

// OriginTagger marks local events caused by an inbound envelope.
type OriginTagger interface {
	BeginOrigin(mutationID string) (end func())
}

// Result summarizes one envelope application.
type Result struct {
	MutationID string
	Duplicate  bool
	Applied    int
	Stale      int
	Missing    int
	Invalid    int
}

// Option configures an Applier.
type Option func(*Applier)

// WithRegistry sets the type registry used to materialize added entities.
func WithRegistry(r *registry.Registry) Option {
	return func(a *Applier) {
		a.registry = r
	}
}

// WithOriginTagger tags events produced while applying with the envelope's mutation id.
func WithOriginTagger(t OriginTagger) Option {
	return func(a *Applier) {
		a.tagger = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) {
		a.logger = logger
	}
}

// WithWindow shares the window of seen mutation ids, typically with the
// notifier of the same replica.
func WithWindow(w *Window) Option {
	return func(a *Applier) {
		a.window = w
	}
}

// WithHooks sets observability callbacks.
func WithHooks(h domain.Hooks) Option {
	return func(a *Applier) {
		a.hooks = h
	}
}

// Applier replays patch envelopes onto a document. It is not safe for
// concurrent use; callers serialize access together with the document.
type Applier struct {
	doc         *scene.Document
	registry    *registry.Registry
	tagger      OriginTagger
	logger      *slog.Logger
	hooks       domain.Hooks
	window      *Window
	lastApplied string
}

// NewApplier creates an applier for doc.
func NewApplier(doc *scene.Document, opts ...Option) *Applier {
	a := &Applier{
		doc:    doc,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = registry.NewRegistry()
	}
	if a.window == nil {
		a.window = NewWindow(DefaultWindow)
	}
	a.logger = a.logger.With("component", "patch")
	return a
}

// LastApplied returns the mutation id of the last envelope applied.
func (a *Applier) LastApplied() string { return a.lastApplied }

// Window returns the window of seen mutation ids.
func (a *Applier) Window() *Window { return a.window }

// ApplyPatchEnvelope mutates the document to match env. An envelope whose
// mutation id is in the window, because it was applied already or sent by
// this replica, is dropped. Operations are applied in order without
// recording history; failures of one operation do not stop the others.
func (a *Applier) ApplyPatchEnvelope(env domain.PatchEnvelope) Result {
	res := Result{MutationID: env.MutationID}

	if env.MutationID != "" && (env.MutationID == a.lastApplied || a.window.Contains(env.MutationID)) {
		res.Duplicate = true
		a.logger.Debug("dropping duplicate envelope", "mutation_id", env.MutationID)
		a.emitEnvelope(env, true)
		return res
	}
	a.lastApplied = env.MutationID
	a.window.Remember(env.MutationID)

	if a.tagger != nil && env.MutationID != "" {
		end := a.tagger.BeginOrigin(env.MutationID)
		defer end()
	}

	a.doc.History().WithoutRecording(func() {
		for _, op := range env.Patches {
			a.apply(op, &res)
		}
	})

	if res.Applied > 0 {
		a.doc.Visual().Update()
	}
	a.logger.Debug("envelope applied",
		"mutation_id", env.MutationID,
		"applied", res.Applied,
		"stale", res.Stale,
		"missing", res.Missing,
		"invalid", res.Invalid,
	)
	a.emitEnvelope(env, false)
	return res
}

func (a *Applier) apply(op domain.PatchOp, res *Result) {
	if op.Type == domain.PatchBatch {
		// Not atomic: each nested op is gated on its own.
		for _, sub := range op.Ops {
			a.apply(sub, res)
		}
		return
	}

	var outcome domain.OpOutcome
	switch {
	case op.Type == domain.PatchAdd:
		outcome = a.add(op)
	case op.Type == domain.PatchRemove:
		outcome = a.remove(op)
	case op.Type.IsUpdate():
		outcome = a.gated(op, a.update)
	case op.Type == domain.PatchUpdateBiz:
		outcome = a.gated(op, a.updateBiz)
	default:
		a.logger.Warn("unknown patch op", "type", op.Type)
		outcome = domain.OpInvalid
	}

	switch outcome {
	case domain.OpApplied:
		res.Applied++
	case domain.OpStale:
		res.Stale++
	case domain.OpMissing:
		res.Missing++
	case domain.OpInvalid:
		res.Invalid++
	}
	if a.hooks.OnOp != nil {
		a.hooks.OnOp(&domain.OpEvent{
			EventBase: domain.NewBase(domain.EventOp),
			OpType:    op.Type,
			EntityID:  opEntityID(op),
			Outcome:   outcome,
		})
	}
}

// gated resolves op.ID, drops the op if the entity is newer, and otherwise
// advances the entity revision before applying.
func (a *Applier) gated(op domain.PatchOp, fn func(*scene.Node, domain.PatchOp) domain.OpOutcome) domain.OpOutcome {
	n := a.doc.Find(op.ID)
	if n == nil {
		return domain.OpMissing
	}
	if n.Rev() > op.Rev {
		a.logger.Debug("stale op", "entity", op.ID, "local_rev", n.Rev(), "op_rev", op.Rev)
		return domain.OpStale
	}
	n.SetRev(op.Rev)
	return fn(n, op)
}

func (a *Applier) update(n *scene.Node, op domain.PatchOp) domain.OpOutcome {
	outcome := domain.OpApplied
	for _, name := range sortedKeys(op.Set) {
		raw := op.Set[name]
		if domain.IsSchemaField(name) {
			v, err := codec.DecodeField(name, raw)
			if err != nil {
				a.logger.Warn("skipping field", "entity", n.ID(), "field", name, "err", err)
				outcome = domain.OpInvalid
				continue
			}
			n.Set(name, v)
			continue
		}
		v, err := codec.InferValue(raw)
		if err != nil {
			a.logger.Warn("skipping dynamic field", "entity", n.ID(), "field", name, "err", err)
			outcome = domain.OpInvalid
			continue
		}
		n.SetCustom(name, v)
	}
	for _, name := range op.Unset {
		if domain.IsSchemaField(name) {
			n.Unset(name)
			continue
		}
		n.RemoveCustom(name)
	}
	return outcome
}

func (a *Applier) updateBiz(n *scene.Node, op domain.PatchOp) domain.OpOutcome {
	outcome := domain.OpApplied
	props, types := n.CustomProps(), n.CustomTypes()
	for _, key := range sortedKeys(op.Values) {
		tv := op.Values[key]
		if tv.T == domain.ValueDelete {
			delete(props, key)
			delete(types, key)
			continue
		}
		v, err := codec.DecodeValue(tv.T, tv.V)
		if err != nil {
			a.logger.Warn("skipping business value", "entity", n.ID(), "key", key, "err", err)
			outcome = domain.OpInvalid
			continue
		}
		props[key] = v
		types[key] = v.Type()
	}
	n.SetCustomChannels(props, types)
	return outcome
}

func (a *Applier) remove(op domain.PatchOp) domain.OpOutcome {
	outcome := domain.OpMissing
	for _, id := range op.IDs {
		n := a.doc.Find(id)
		if n == nil || n == a.doc.Root() {
			continue
		}
		if op.Rev > 0 && n.Rev() > op.Rev {
			a.logger.Debug("stale remove", "entity", id, "local_rev", n.Rev(), "op_rev", op.Rev)
			if outcome == domain.OpMissing {
				outcome = domain.OpStale
			}
			continue
		}
		if n.Detach() {
			outcome = domain.OpApplied
		}
	}
	return outcome
}

// add inserts a new entity, or relocates an existing one with the same id.
func (a *Applier) add(op domain.PatchOp) domain.OpOutcome {
	if op.Entity == nil || op.Entity.ID == "" {
		return domain.OpInvalid
	}

	parent := a.doc.Root()
	if op.ParentID != "" {
		if parent = a.doc.Find(op.ParentID); parent == nil {
			return domain.OpMissing
		}
	}

	var previous *scene.Node
	if op.PreviousID != "" {
		previous = a.doc.Find(op.PreviousID)
		if previous == nil || previous.Parent() != parent {
			// Out-of-order delivery: keep the entity, append it.
			a.logger.Debug("previous sibling not found, appending", "entity", op.Entity.ID, "previous", op.PreviousID)
			previous = parent.Children().Tail()
		}
	}

	if existing := a.doc.Find(op.Entity.ID); existing != nil {
		if existing == a.doc.Root() {
			return domain.OpInvalid
		}
		if op.Entity.Rev > existing.Rev() {
			existing.SetRev(op.Entity.Rev)
		}
		if existing.Parent() == parent && existing.PreviousSibling() == previous {
			return domain.OpApplied
		}
		if previous == existing {
			previous = existing.PreviousSibling()
		}
		if !existing.MoveTo(parent, previous) {
			return domain.OpInvalid
		}
		return domain.OpApplied
	}

	if rev, buried := a.doc.Tombstone(op.Entity.ID); buried && op.Entity.Rev > 0 && op.Entity.Rev <= rev {
		a.logger.Debug("stale add of removed entity", "entity", op.Entity.ID, "removed_rev", rev, "op_rev", op.Entity.Rev)
		return domain.OpStale
	}

	n, err := a.registry.Decode(*op.Entity)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEntityType) {
			a.logger.Warn("cannot materialize entity", "entity", op.Entity.ID, "err", err)
		} else {
			a.logger.Warn("invalid entity snapshot", "entity", op.Entity.ID, "err", err)
		}
		return domain.OpInvalid
	}
	if !parent.InsertChildAfter(n, previous) {
		return domain.OpInvalid
	}
	return domain.OpApplied
}

func (a *Applier) emitEnvelope(env domain.PatchEnvelope, duplicate bool) {
	if a.hooks.OnEnvelope == nil {
		return
	}
	a.hooks.OnEnvelope(&domain.EnvelopeEvent{
		EventBase:  domain.NewBase(domain.EventEnvelope),
		MutationID: env.MutationID,
		Duplicate:  duplicate,
		Ops:        len(env.Patches),
	})
}

func opEntityID(op domain.PatchOp) string {
	switch {
	case op.ID != "":
		return op.ID
	case op.Entity != nil:
		return op.Entity.ID
	case len(op.IDs) == 1:
		return op.IDs[0]
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
