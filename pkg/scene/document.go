package scene

import (
	"log/slog"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/history"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/reactive"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ChangeRecord describes one structural mutation with enough context to invert it.
type ChangeRecord struct {
	Node   *Node
	Action domain.Action

	OldParent   *Node
	OldPrevious *Node
	NewParent   *Node
	NewPrevious *Node
	From        int
	To          int

	// Replaced is the node swapped out by a replace.
	Replaced *Node
}

// Undo reverts the structural change.
func (r ChangeRecord) Undo() {
	switch r.Action {
	case domain.ActionAdd:
		r.Node.Detach()
	case domain.ActionRemove:
		r.OldParent.InsertChildAfter(r.Node, r.OldPrevious)
	case domain.ActionMove:
		r.Node.MoveTo(r.OldParent, r.OldPrevious)
	case domain.ActionReplace:
		r.NewParent.ReplaceChild(r.Node, r.Replaced)
	}
}

// Redo re-applies the structural change.
func (r ChangeRecord) Redo() {
	switch r.Action {
	case domain.ActionAdd:
		r.NewParent.InsertChildAfter(r.Node, r.NewPrevious)
	case domain.ActionRemove:
		r.Node.Detach()
	case domain.ActionMove:
		r.Node.MoveTo(r.NewParent, r.NewPrevious)
	case domain.ActionReplace:
		r.NewParent.ReplaceChild(r.Replaced, r.Node)
	}
}

// propertyRecord inverts one property change.
type propertyRecord struct {
	node           *Node
	name           string
	old, new       any
	hadOld, hadNew bool
}

func (r propertyRecord) Undo() { r.node.Restore(r.name, r.old, r.hadOld) }
func (r propertyRecord) Redo() { r.node.Restore(r.name, r.new, r.hadNew) }

// NodeObserver receives structural change records.
type NodeObserver interface {
	NodeChanged(records []ChangeRecord)
}

// NodeObserverFunc adapts a function to NodeObserver.
type NodeObserverFunc func(records []ChangeRecord)

// NodeChanged implements NodeObserver.
func (f NodeObserverFunc) NodeChanged(records []ChangeRecord) { f(records) }

type observerEntry struct {
	id       uint64
	observer NodeObserver
}

// DefaultTombstoneLimit is how many removed ids a document remembers.
const DefaultTombstoneLimit = 4096

// Option configures a Document.
type Option func(*Document)

// WithHistory sets the history log. A fresh unbounded log is used otherwise.
func WithHistory(h *history.Log) Option {
	return func(d *Document) {
		d.history = h
	}
}

// WithVisual sets the redraw collaborator.
func WithVisual(v ports.Visual) Option {
	return func(d *Document) {
		d.visual = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		d.logger = logger
	}
}

// WithTombstoneLimit sets how many removed entity ids are remembered.
func WithTombstoneLimit(n int) Option {
	return func(d *Document) {
		d.tombstoneLimit = n
	}
}

// WithRootID overrides the root node id (default "root").
func WithRootID(id string) Option {
	return func(d *Document) {
		d.rootID = id
	}
}

// Document owns the scene tree and its history, selection and observers.
type Document struct {
	logger    *slog.Logger
	rootID    string
	root      *Node
	history   *history.Log
	selection *Selection
	visual    ports.Visual
	observers []observerEntry
	nextObs   uint64

	tombstoneLimit int
	tombstones     *lru.Cache[string, int64]
}

// NewDocument creates a document with an empty folder root.
func NewDocument(opts ...Option) *Document {
	d := &Document{
		logger: logging.NewNop(),
		rootID:         "root",
		visual:         ports.NopVisual{},
		tombstoneLimit: DefaultTombstoneLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tombstoneLimit <= 0 {
		d.tombstoneLimit = DefaultTombstoneLimit
	}
	d.tombstones, _ = lru.New[string, int64](d.tombstoneLimit)
	if d.history == nil {
		d.history = history.New(history.WithLogger(d.logger))
	}
	d.root = NewNode(domain.TypeFolder, d.rootID)
	d.root.doc = d
	d.selection = newSelection()
	return d
}

// Root returns the root folder.
func (d *Document) Root() *Node { return d.root }

// History returns the undo log.
func (d *Document) History() *history.Log { return d.history }

// Selection returns the current selection.
func (d *Document) Selection() *Selection { return d.selection }

// Visual returns the redraw collaborator.
func (d *Document) Visual() ports.Visual { return d.visual }

// Logger returns the document logger.
func (d *Document) Logger() *slog.Logger { return d.logger }

// Find returns the entity with id, or nil.
func (d *Document) Find(id string) *Node { return d.root.Find(id) }

// Observers returns the registered observers in registration order.
func (d *Document) Observers() []NodeObserver {
	out := make([]NodeObserver, len(d.observers))
	for i, e := range d.observers {
		out[i] = e.observer
	}
	return out
}

// AddNodeObserver registers o for structural changes. cancel unregisters it
// and may be called more than once.
func (d *Document) AddNodeObserver(o NodeObserver) (cancel func()) {
	id := d.nextObs
	d.nextObs++
	d.observers = append(d.observers, observerEntry{id: id, observer: o})
	return func() {
		for i, e := range d.observers {
			if e.id == id {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

// Tombstone reports whether id was removed from the tree and not re-added
// since, with the revision the entity had when it was removed. Only the most
// recent removals are remembered.
func (d *Document) Tombstone(id string) (rev int64, ok bool) {
	return d.tombstones.Peek(id)
}

// NotifyNodeChanged records structural changes into history, updates the
// tombstones and then fans the records out to observers in registration order.
func (d *Document) NotifyNodeChanged(records ...ChangeRecord) {
	if len(records) == 0 {
		return
	}
	for _, r := range records {
		d.history.Record(r)
		switch r.Action {
		case domain.ActionAdd:
			d.revive(r.Node)
		case domain.ActionRemove:
			d.bury(r.Node)
		case domain.ActionReplace:
			d.bury(r.Replaced)
			d.revive(r.Node)
		}
	}
	for _, o := range d.Observers() {
		o.NodeChanged(records)
	}
}

func (d *Document) bury(n *Node) {
	if n == nil {
		return
	}
	n.Walk(func(c *Node) bool {
		d.tombstones.Add(c.ID(), c.Rev())
		return true
	})
}

// revive clears the tombstones of a re-added subtree. A re-added id never
// goes back in revision, so a fresh node reusing a removed id outranks the
// removal.
func (d *Document) revive(n *Node) {
	if n == nil {
		return
	}
	n.Walk(func(c *Node) bool {
		if rev, ok := d.tombstones.Peek(c.ID()); ok {
			if c.Rev() < rev {
				c.SetRev(rev)
			}
			d.tombstones.Remove(c.ID())
		}
		return true
	})
}

// Undo reverts the last committed transaction and redraws.
func (d *Document) Undo() bool {
	if !d.history.Undo() {
		return false
	}
	d.visual.Update()
	return true
}

// Redo re-applies the last undone transaction and redraws.
func (d *Document) Redo() bool {
	if !d.history.Redo() {
		return false
	}
	d.visual.Update()
	return true
}

func (d *Document) recordProperty(n *Node, c reactive.Change) {
	d.history.Record(propertyRecord{
		node:   n,
		name:   c.Name,
		old:    c.Old,
		new:    c.New,
		hadOld: c.HadOld,
		hadNew: n.Has(c.Name),
	})
}
