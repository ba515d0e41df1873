package scene

import "iter"

// List is the ordered, doubly-linked set of children of one owner node.
// Links live on the nodes themselves, so a node belongs to at most one list.
//
// List never calls out to user code: observers are notified by Node after
// the links are consistent again.
type List struct {
	owner *Node
	head  *Node
	tail  *Node
	size  int
}

// NewList creates a list without an owner. Nodes in it report no parent.
func NewList() *List {
	return &List{}
}

// Owner returns the node whose children this list holds, if any.
func (l *List) Owner() *Node { return l.owner }

// Head returns the first element or nil.
func (l *List) Head() *Node { return l.head }

// Tail returns the last element or nil.
func (l *List) Tail() *Node { return l.tail }

// Len returns the number of elements.
func (l *List) Len() int { return l.size }

// Contains reports whether n is linked in l.
func (l *List) Contains(n *Node) bool {
	return n != nil && n.list == l
}

// Push appends items in order. Nil items and items already linked elsewhere are skipped.
func (l *List) Push(items ...*Node) {
	for _, n := range items {
		if !free(n) {
			continue
		}
		l.linkAfter(l.tail, n)
	}
}

// Insert places item before the element currently at index.
// It is a no-op returning false when index is outside [0, Len()).
func (l *List) Insert(index int, item *Node) bool {
	if !free(item) {
		return false
	}
	at := l.NodeAt(index)
	if at == nil {
		return false
	}
	l.linkAfter(at.prev, item)
	return true
}

// InsertAfter places item right after prev, or at the head when prev is nil.
func (l *List) InsertAfter(prev, item *Node) bool {
	if !free(item) {
		return false
	}
	if prev != nil && prev.list != l {
		return false
	}
	l.linkAfter(prev, item)
	return true
}

// Remove unlinks item. It is a no-op returning false if item is not in l.
func (l *List) Remove(item *Node) bool {
	if !l.Contains(item) {
		return false
	}
	l.unlink(item)
	return true
}

// RemoveAt unlinks and returns the element at index, or nil if out of range.
func (l *List) RemoveAt(index int) *Node {
	n := l.NodeAt(index)
	if n != nil {
		l.unlink(n)
	}
	return n
}

// Move relocates item so that it ends up at index.
func (l *List) Move(item *Node, index int) bool {
	if !l.Contains(item) || index < 0 || index >= l.size {
		return false
	}
	l.unlink(item)
	if index >= l.size {
		l.linkAfter(l.tail, item)
		return true
	}
	at := l.NodeAt(index)
	l.linkAfter(at.prev, item)
	return true
}

// Clear unlinks every element.
func (l *List) Clear() {
	for n := l.head; n != nil; {
		next := n.next
		n.prev, n.next, n.list = nil, nil, nil
		n = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}

// Reverse flips the order in place.
func (l *List) Reverse() {
	for n := l.head; n != nil; n = n.prev {
		n.prev, n.next = n.next, n.prev
	}
	l.head, l.tail = l.tail, l.head
}

// NodeAt returns the element at index, walking from whichever end is closer.
func (l *List) NodeAt(index int) *Node {
	if index < 0 || index >= l.size {
		return nil
	}
	if index < l.size/2 {
		n := l.head
		for i := 0; i < index; i++ {
			n = n.next
		}
		return n
	}
	n := l.tail
	for i := l.size - 1; i > index; i-- {
		n = n.prev
	}
	return n
}

// IndexOf returns the position of item, or -1.
func (l *List) IndexOf(item *Node) int {
	if !l.Contains(item) {
		return -1
	}
	i := 0
	for n := l.head; n != nil; n = n.next {
		if n == item {
			return i
		}
		i++
	}
	return -1
}

// All iterates from head to tail.
func (l *List) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := l.head; n != nil; {
			next := n.next
			if !yield(n) {
				return
			}
			n = next
		}
	}
}

// Backward iterates from tail to head.
func (l *List) Backward() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := l.tail; n != nil; {
			prev := n.prev
			if !yield(n) {
				return
			}
			n = prev
		}
	}
}

// Slice returns the elements in order.
func (l *List) Slice() []*Node {
	out := make([]*Node, 0, l.size)
	for n := range l.All() {
		out = append(out, n)
	}
	return out
}

// linkAfter inserts n after prev (nil means at head).
func (l *List) linkAfter(prev, n *Node) {
	var next *Node
	if prev == nil {
		next = l.head
	} else {
		next = prev.next
	}
	n.prev, n.next, n.list = prev, next, l
	if prev == nil {
		l.head = n
	} else {
		prev.next = n
	}
	if next == nil {
		l.tail = n
	} else {
		next.prev = n
	}
	l.size++
}

func (l *List) unlink(n *Node) {
	if n.prev == nil {
		l.head = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next == nil {
		l.tail = n.prev
	} else {
		n.next.prev = n.prev
	}
	n.prev, n.next, n.list = nil, nil, nil
	l.size--
}

func free(n *Node) bool {
	return n != nil && n.list == nil
}
