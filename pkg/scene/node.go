package scene

import (
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/reactive"
)

// Node is a document entity: stable identity, a revision used by replication,
// reactive properties and an ordered list of children it owns.
type Node struct {
	*reactive.Host

	id      string
	typeTag string
	rev     int64

	children *List

	// links, maintained by List
	list *List
	prev *Node
	next *Node

	// doc is set on the root node only.
	doc *Document
}

// NewNode creates a detached node.
func NewNode(typeTag, id string) *Node {
	n := &Node{
		id:      id,
		typeTag: typeTag,
	}
	n.Host = reactive.New(n)
	n.children = &List{owner: n}
	n.Host.Subscribe(n.forward)
	return n
}

// ID returns the stable identity.
func (n *Node) ID() string { return n.id }

// TypeTag returns the registered entity type.
func (n *Node) TypeTag() string { return n.typeTag }

// Rev returns the replication revision; zero means unset.
func (n *Node) Rev() int64 { return n.rev }

// SetRev overwrites the revision.
func (n *Node) SetRev(r int64) { n.rev = r }

// AdvanceRev increments the revision and returns the new value.
func (n *Node) AdvanceRev() int64 {
	n.rev++
	return n.rev
}

// Parent returns the owning node, or nil when detached or root.
func (n *Node) Parent() *Node {
	if n.list == nil {
		return nil
	}
	return n.list.owner
}

// PreviousSibling returns the sibling before n.
func (n *Node) PreviousSibling() *Node { return n.prev }

// NextSibling returns the sibling after n.
func (n *Node) NextSibling() *Node { return n.next }

// Children exposes the child list for reading. Mutate through the Node
// methods so that change records are emitted.
func (n *Node) Children() *List { return n.children }

// Document returns the document n is attached to, walking up to the root.
func (n *Node) Document() *Document {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.doc != nil {
			return cur.doc
		}
	}
	return nil
}

// IsAncestorOf reports whether n is other or one of its ancestors.
func (n *Node) IsAncestorOf(other *Node) bool {
	for cur := other; cur != nil; cur = cur.Parent() {
		if cur == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants depth-first, pre-order.
// Returning false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := range n.children.All() {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find searches the subtree rooted at n for id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if c.id == id {
			found = c
			return false
		}
		return true
	})
	return found
}

// --- schema fields ---

// Name returns the display name, or "" when unset.
func (n *Node) Name() string {
	s, _ := n.Get(domain.FieldName, "").(string)
	return s
}

// SetName sets the display name. It reports whether the value changed.
func (n *Node) SetName(v string) bool { return n.Set(domain.FieldName, v) }

// Visible defaults to true.
func (n *Node) Visible() bool {
	b, ok := n.Get(domain.FieldVisible, true).(bool)
	return !ok || b
}

// SetVisible shows or hides the entity. It reports whether the value changed.
func (n *Node) SetVisible(v bool) bool { return n.Set(domain.FieldVisible, v) }

// LayerID returns the layer the entity is drawn on, or "" when unset.
func (n *Node) LayerID() string {
	s, _ := n.Get(domain.FieldLayerID, "").(string)
	return s
}

// SetLayerID moves the entity to a layer. It reports whether the value changed.
func (n *Node) SetLayerID(v string) bool { return n.Set(domain.FieldLayerID, v) }

// MaterialID returns the material reference, or "" when unset.
func (n *Node) MaterialID() string {
	s, _ := n.Get(domain.FieldMaterialID, "").(string)
	return s
}

// SetMaterialID sets the material reference. It reports whether the value changed.
func (n *Node) SetMaterialID(v string) bool { return n.Set(domain.FieldMaterialID, v) }

// Transform defaults to identity.
func (n *Node) Transform() domain.Matrix4 {
	if m, ok := n.Get(domain.FieldTransform, nil).(domain.Matrix4); ok {
		return m
	}
	return domain.Identity()
}

// SetTransform sets the local transform. It reports whether the value changed.
func (n *Node) SetTransform(m domain.Matrix4) bool { return n.Set(domain.FieldTransform, m) }

// --- dynamic properties ---

// CustomProps returns a copy of the dynamic value channel.
func (n *Node) CustomProps() domain.CustomProps {
	props, _ := n.Get(domain.FieldCustomProperties, nil).(domain.CustomProps)
	return props.Clone()
}

// CustomTypes returns a copy of the dynamic type channel.
func (n *Node) CustomTypes() domain.CustomTypes {
	types, _ := n.Get(domain.FieldCustomPropertyTypes, nil).(domain.CustomTypes)
	return types.Clone()
}

// Custom returns one dynamic value.
func (n *Node) Custom(key string) (domain.Value, bool) {
	props, _ := n.Get(domain.FieldCustomProperties, nil).(domain.CustomProps)
	v, ok := props[key]
	return v, ok
}

// SetCustom stores a dynamic value and records its type.
func (n *Node) SetCustom(key string, v domain.Value) bool {
	props, types := n.CustomProps(), n.CustomTypes()
	props[key] = v
	types[key] = v.Type()
	return n.SetCustomChannels(props, types)
}

// RemoveCustom deletes key from both channels.
func (n *Node) RemoveCustom(key string) bool {
	props, types := n.CustomProps(), n.CustomTypes()
	_, inProps := props[key]
	_, inTypes := types[key]
	if !inProps && !inTypes {
		return false
	}
	delete(props, key)
	delete(types, key)
	return n.SetCustomChannels(props, types)
}

// SetCustomChannels replaces both channels. Values are stored as given and must not be mutated afterwards.
func (n *Node) SetCustomChannels(props domain.CustomProps, types domain.CustomTypes) bool {
	a := n.Set(domain.FieldCustomProperties, props)
	b := n.Set(domain.FieldCustomPropertyTypes, types)
	return a || b
}

// forward hands property changes to the document for history recording.
func (n *Node) forward(c reactive.Change) {
	if doc := n.Document(); doc != nil {
		doc.recordProperty(n, c)
	}
}

// --- structure ---

// AddChild appends child.
func (n *Node) AddChild(child *Node) bool {
	if !n.canAdopt(child) {
		return false
	}
	n.children.Push(child)
	n.emit(ChangeRecord{Node: child, Action: domain.ActionAdd, NewParent: n, NewPrevious: child.prev, To: n.children.Len() - 1})
	return true
}

// InsertChild inserts child before the child currently at index.
func (n *Node) InsertChild(index int, child *Node) bool {
	if !n.canAdopt(child) || !n.children.Insert(index, child) {
		return false
	}
	n.emit(ChangeRecord{Node: child, Action: domain.ActionAdd, NewParent: n, NewPrevious: child.prev, To: index})
	return true
}

// InsertChildAfter inserts child after previous, or first when previous is nil.
func (n *Node) InsertChildAfter(child, previous *Node) bool {
	if !n.canAdopt(child) || !n.children.InsertAfter(previous, child) {
		return false
	}
	n.emit(ChangeRecord{Node: child, Action: domain.ActionAdd, NewParent: n, NewPrevious: previous, To: n.children.IndexOf(child)})
	return true
}

// RemoveChild detaches child.
func (n *Node) RemoveChild(child *Node) bool {
	if !n.children.Contains(child) {
		return false
	}
	prev, from := child.prev, n.children.IndexOf(child)
	n.children.Remove(child)
	n.emit(ChangeRecord{Node: child, Action: domain.ActionRemove, OldParent: n, OldPrevious: prev, From: from})
	return true
}

// MoveChild reorders child to index within n.
func (n *Node) MoveChild(child *Node, index int) bool {
	if !n.children.Contains(child) {
		return false
	}
	prev, from := child.prev, n.children.IndexOf(child)
	if from == index || !n.children.Move(child, index) {
		return false
	}
	n.emit(ChangeRecord{
		Node: child, Action: domain.ActionMove,
		OldParent: n, OldPrevious: prev, From: from,
		NewParent: n, NewPrevious: child.prev, To: index,
	})
	return true
}

// MoveTo relocates n under parent, after previous (first when nil).
func (n *Node) MoveTo(parent, previous *Node) bool {
	oldParent := n.Parent()
	if oldParent == nil || parent == nil || n.IsAncestorOf(parent) {
		return false
	}
	if previous == n || (previous != nil && previous.Parent() != parent) {
		return false
	}
	if oldParent == parent && n.prev == previous {
		return false
	}
	oldPrev, from := n.prev, oldParent.children.IndexOf(n)
	oldParent.children.Remove(n)
	parent.children.InsertAfter(previous, n)
	parent.emit(ChangeRecord{
		Node: n, Action: domain.ActionMove,
		OldParent: oldParent, OldPrevious: oldPrev, From: from,
		NewParent: parent, NewPrevious: previous, To: parent.children.IndexOf(n),
	})
	return true
}

// ReplaceChild swaps old for replacement at the same position.
func (n *Node) ReplaceChild(old, replacement *Node) bool {
	if !n.children.Contains(old) || !n.canAdopt(replacement) {
		return false
	}
	prev, at := old.prev, n.children.IndexOf(old)
	n.children.Remove(old)
	n.children.InsertAfter(prev, replacement)
	n.emit(ChangeRecord{
		Node: replacement, Action: domain.ActionReplace, Replaced: old,
		OldParent: n, OldPrevious: prev, From: at,
		NewParent: n, NewPrevious: prev, To: at,
	})
	return true
}

// Detach removes n from its parent. No-op without a parent.
func (n *Node) Detach() bool {
	if p := n.Parent(); p != nil {
		return p.RemoveChild(n)
	}
	return false
}

func (n *Node) canAdopt(child *Node) bool {
	return free(child) && child.doc == nil && !child.IsAncestorOf(n)
}

func (n *Node) emit(rec ChangeRecord) {
	if doc := n.Document(); doc != nil {
		doc.NotifyNodeChanged(rec)
	}
}
