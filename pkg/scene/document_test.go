package scene

import (
	"testing"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/reactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	records []ChangeRecord
}

func (r *recorder) NodeChanged(records []ChangeRecord) {
	r.records = append(r.records, records...)
}

type countingVisual struct{ updates int }

func (v *countingVisual) Update() { v.updates++ }

func newTree(t *testing.T) (*Document, *recorder, map[string]*Node) {
	t.Helper()
	doc := NewDocument()
	rec := &recorder{}
	doc.AddNodeObserver(rec)

	all := map[string]*Node{}
	for _, id := range []string{"a", "b", "c"} {
		n := NewNode(domain.TypeGeometry, id)
		all[id] = n
		require.True(t, doc.Root().AddChild(n))
	}
	rec.records = nil
	return doc, rec, all
}

func childIDs(n *Node) []string { return ids(n.Children().Slice()) }

func TestNode_Defaults(t *testing.T) {
	n := NewNode(domain.TypeGeometry, "n1")

	assert.Equal(t, "n1", n.ID())
	assert.Equal(t, domain.TypeGeometry, n.TypeTag())
	assert.Equal(t, int64(0), n.Rev())
	assert.True(t, n.Visible())
	assert.Equal(t, domain.Identity(), n.Transform())
	assert.Empty(t, n.CustomProps())
	assert.Nil(t, n.Parent())
	assert.Nil(t, n.Document())
}

func TestNode_Revision(t *testing.T) {
	n := NewNode(domain.TypeGeometry, "n1")
	assert.Equal(t, int64(1), n.AdvanceRev())
	n.SetRev(7)
	assert.Equal(t, int64(8), n.AdvanceRev())
}

func TestNode_CustomChannels(t *testing.T) {
	n := NewNode(domain.TypeGeometry, "n1")

	var changed []string
	n.Subscribe(func(c reactive.Change) { changed = append(changed, c.Name) })

	require.True(t, n.SetCustom("height", domain.Number(2)))
	require.True(t, n.SetCustom("axis", domain.Vector3{Z: 1}))
	assert.False(t, n.SetCustom("height", domain.Number(2)), "unchanged custom value is a no-op")

	v, ok := n.Custom("height")
	require.True(t, ok)
	assert.Equal(t, domain.Number(2), v)
	assert.Equal(t, domain.CustomTypes{"height": domain.ValueNumber, "axis": domain.ValueVector}, n.CustomTypes())

	require.True(t, n.RemoveCustom("height"))
	assert.False(t, n.RemoveCustom("height"))
	_, ok = n.Custom("height")
	assert.False(t, ok)
	assert.NotContains(t, n.CustomTypes(), "height")

	assert.Equal(t, []string{
		domain.FieldCustomProperties, domain.FieldCustomPropertyTypes,
		domain.FieldCustomProperties, domain.FieldCustomPropertyTypes,
		domain.FieldCustomProperties, domain.FieldCustomPropertyTypes,
	}, changed)
}

func TestNode_CustomPropsReturnsCopy(t *testing.T) {
	n := NewNode(domain.TypeGeometry, "n1")
	n.SetCustom("k", domain.String("v"))

	props := n.CustomProps()
	props["k"] = domain.String("mutated")

	v, _ := n.Custom("k")
	assert.Equal(t, domain.String("v"), v)
}

func TestNode_FindAndWalk(t *testing.T) {
	doc, _, all := newTree(t)
	deep := NewNode(domain.TypeMetadata, "deep")
	require.True(t, all["b"].AddChild(deep))

	assert.Same(t, deep, doc.Find("deep"))
	assert.Nil(t, doc.Find("missing"))
	assert.Same(t, doc, deep.Document())
	assert.Same(t, all["b"], deep.Parent())

	var order []string
	doc.Root().Walk(func(n *Node) bool {
		order = append(order, n.ID())
		return true
	})
	assert.Equal(t, []string{"root", "a", "b", "deep", "c"}, order)
}

func TestNode_StructuralRecords(t *testing.T) {
	doc, rec, all := newTree(t)
	root := doc.Root()

	d := NewNode(domain.TypeGeometry, "d")
	require.True(t, root.InsertChild(1, d))
	require.True(t, root.MoveChild(all["c"], 0))
	require.True(t, root.RemoveChild(all["a"]))

	assert.Equal(t, []string{"c", "d", "b"}, childIDs(root))
	require.Len(t, rec.records, 3)

	add := rec.records[0]
	assert.Equal(t, domain.ActionAdd, add.Action)
	assert.Same(t, d, add.Node)
	assert.Same(t, all["a"], add.NewPrevious)

	move := rec.records[1]
	assert.Equal(t, domain.ActionMove, move.Action)
	assert.Equal(t, 3, move.From)
	assert.Equal(t, 0, move.To)
	assert.Same(t, all["b"], move.OldPrevious)
	assert.Nil(t, move.NewPrevious)

	remove := rec.records[2]
	assert.Equal(t, domain.ActionRemove, remove.Action)
	assert.Same(t, root, remove.OldParent)
	assert.Same(t, all["c"], remove.OldPrevious)
}

func TestNode_RejectsCycles(t *testing.T) {
	doc, rec, all := newTree(t)

	assert.False(t, all["a"].AddChild(doc.Root()), "root cannot be adopted")
	assert.False(t, all["a"].AddChild(all["b"]), "linked node cannot be adopted twice")

	child := NewNode(domain.TypeFolder, "child")
	require.True(t, all["a"].AddChild(child))
	assert.False(t, all["a"].MoveTo(child, nil), "node cannot move under its own descendant")
	assert.Len(t, rec.records, 1)
}

func TestNode_MoveToAndReplace(t *testing.T) {
	doc, rec, all := newTree(t)

	require.True(t, all["c"].MoveTo(all["a"], nil))
	assert.Same(t, all["a"], all["c"].Parent())
	assert.Equal(t, []string{"a", "b"}, childIDs(doc.Root()))

	x := NewNode(domain.TypeGeometry, "x")
	require.True(t, doc.Root().ReplaceChild(all["b"], x))
	assert.Equal(t, []string{"a", "x"}, childIDs(doc.Root()))
	assert.Nil(t, all["b"].Parent())

	require.Len(t, rec.records, 2)
	assert.Equal(t, domain.ActionReplace, rec.records[1].Action)
	assert.Same(t, all["b"], rec.records[1].Replaced)

	assert.False(t, all["b"].Detach(), "detached node has no parent")
}

func TestDocument_CancelNodeObserver(t *testing.T) {
	doc := NewDocument()
	rec := &recorder{}
	var seen []domain.Action
	cancelRec := doc.AddNodeObserver(rec)
	cancelFunc := doc.AddNodeObserver(NodeObserverFunc(func(records []ChangeRecord) {
		for _, r := range records {
			seen = append(seen, r.Action)
		}
	}))
	require.Len(t, doc.Observers(), 2)

	doc.Root().AddChild(NewNode(domain.TypeGeometry, "early"))
	assert.Equal(t, []domain.Action{domain.ActionAdd}, seen)

	// Function observers are not comparable; cancelling must not compare them.
	cancelFunc()
	cancelFunc()
	cancelRec()
	assert.Empty(t, doc.Observers())

	rec.records = nil
	doc.Root().AddChild(NewNode(domain.TypeGeometry, "late"))
	assert.Empty(t, rec.records)
	assert.Len(t, seen, 1)
}

func TestDocument_Tombstones(t *testing.T) {
	doc, _, all := newTree(t)
	child := NewNode(domain.TypeGeometry, "a1")
	require.True(t, all["a"].AddChild(child))
	all["a"].SetRev(4)
	child.SetRev(2)

	_, ok := doc.Tombstone("a")
	assert.False(t, ok)

	require.True(t, all["a"].Detach())
	rev, ok := doc.Tombstone("a")
	require.True(t, ok)
	assert.Equal(t, int64(4), rev)
	rev, ok = doc.Tombstone("a1")
	require.True(t, ok, "descendants are buried with their parent")
	assert.Equal(t, int64(2), rev)

	require.True(t, doc.Root().AddChild(all["a"]))
	_, ok = doc.Tombstone("a")
	assert.False(t, ok)
	_, ok = doc.Tombstone("a1")
	assert.False(t, ok)

	x := NewNode(domain.TypeGeometry, "x")
	require.True(t, doc.Root().ReplaceChild(all["b"], x))
	_, ok = doc.Tombstone("b")
	assert.True(t, ok, "a replaced entity is buried")

	require.True(t, all["a"].Detach())
	fresh := NewNode(domain.TypeGeometry, "a")
	require.True(t, doc.Root().AddChild(fresh))
	assert.Equal(t, int64(4), fresh.Rev(), "a reused id starts at the removed revision")
}

func TestDocument_TombstoneLimit(t *testing.T) {
	doc := NewDocument(WithTombstoneLimit(2))
	for _, id := range []string{"a", "b", "c"} {
		n := NewNode(domain.TypeGeometry, id)
		require.True(t, doc.Root().AddChild(n))
		require.True(t, n.Detach())
	}
	_, ok := doc.Tombstone("a")
	assert.False(t, ok, "oldest removal is forgotten")
	_, ok = doc.Tombstone("c")
	assert.True(t, ok)
}

func TestDocument_UndoRedo(t *testing.T) {
	visual := &countingVisual{}
	doc := NewDocument(WithVisual(visual))
	root := doc.Root()
	h := doc.History()

	a := NewNode(domain.TypeGeometry, "a")
	b := NewNode(domain.TypeGeometry, "b")

	require.NoError(t, h.Execute("build", func() error {
		root.AddChild(a)
		root.AddChild(b)
		a.SetName("first")
		b.SetCustom("h", domain.Number(1))
		return nil
	}))
	require.NoError(t, h.Execute("edit", func() error {
		a.SetName("second")
		b.MoveTo(root, nil)
		a.SetLayerID("L1")
		return nil
	}))

	assert.Equal(t, []string{"b", "a"}, childIDs(root))

	require.True(t, doc.Undo())
	assert.Equal(t, "first", a.Name())
	assert.False(t, a.Has(domain.FieldLayerID), "undo removes properties that did not exist")
	assert.Equal(t, []string{"a", "b"}, childIDs(root))

	require.True(t, doc.Undo())
	assert.Equal(t, 0, root.Children().Len())
	assert.False(t, a.Has(domain.FieldName))
	assert.False(t, doc.Undo())

	require.True(t, doc.Redo())
	require.True(t, doc.Redo())
	assert.Equal(t, []string{"b", "a"}, childIDs(root))
	assert.Equal(t, "second", a.Name())
	assert.Equal(t, "L1", a.LayerID())
	v, _ := b.Custom("h")
	assert.Equal(t, domain.Number(1), v)

	assert.Equal(t, 4, visual.updates)
}

func TestDocument_RollbackRestoresTree(t *testing.T) {
	doc, _, all := newTree(t)
	h := doc.History()

	all["a"].SetName("a0")
	require.NoError(t, h.Start("edit"))
	all["a"].SetName("a1")
	all["b"].SetVisible(false)
	all["c"].Detach()
	doc.Root().AddChild(NewNode(domain.TypeFolder, "tmp"))
	require.NoError(t, h.Rollback())

	assert.Equal(t, "a0", all["a"].Name())
	assert.True(t, all["b"].Visible())
	assert.False(t, all["b"].Has(domain.FieldVisible))
	assert.Equal(t, []string{"a", "b", "c"}, childIDs(doc.Root()))
	assert.False(t, h.CanUndo())
}

func TestDocument_DetachedNodesAreNotRecorded(t *testing.T) {
	doc := NewDocument()
	h := doc.History()
	loose := NewNode(domain.TypeGeometry, "loose")

	require.NoError(t, h.Execute("edit", func() error {
		loose.SetName("x")
		return nil
	}))
	assert.False(t, h.CanUndo())
}

func TestSelection(t *testing.T) {
	doc, _, all := newTree(t)
	sel := doc.Selection()

	type call struct{ ids, prev []string }
	var calls []call
	cancel := sel.AddObserver(func(ids, prev []string) {
		calls = append(calls, call{ids, prev})
	})

	sel.Select(all["a"], all["a"], nil, all["b"])
	sel.Select(all["a"], all["b"])
	sel.Clear()
	cancel()
	sel.Select(all["c"])

	require.Len(t, calls, 2)
	assert.Equal(t, []string{"a", "b"}, calls[0].ids)
	assert.Empty(t, calls[0].prev)
	assert.Empty(t, calls[1].ids)
	assert.Equal(t, []string{"a", "b"}, calls[1].prev)
	assert.Equal(t, []*Node{all["c"]}, sel.SelectedNodes())
}
