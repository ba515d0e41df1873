package scene

import "slices"

// SelectionObserver receives the new and previous selected ids.
type SelectionObserver func(ids, previousIDs []string)

// Selection is the document's current set of selected nodes, in selection order.
type Selection struct {
	nodes     []*Node
	observers map[uint64]SelectionObserver
	nextID    uint64
}

func newSelection() *Selection {
	return &Selection{observers: make(map[uint64]SelectionObserver)}
}

// Select replaces the selection. Duplicates and nils are dropped.
// Observers are notified only when the id list changes.
func (s *Selection) Select(nodes ...*Node) {
	next := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil && !slices.Contains(next, n) {
			next = append(next, n)
		}
	}
	previous := s.IDs()
	s.nodes = next
	ids := s.IDs()
	if slices.Equal(ids, previous) {
		return
	}
	s.publish(ids, previous)
}

// Clear empties the selection.
func (s *Selection) Clear() { s.Select() }

// SelectedNodes returns the selected nodes.
func (s *Selection) SelectedNodes() []*Node {
	return slices.Clone(s.nodes)
}

// IDs returns the selected ids.
func (s *Selection) IDs() []string {
	ids := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		ids[i] = n.ID()
	}
	return ids
}

// AddObserver registers fn and returns a function that removes it.
func (s *Selection) AddObserver(fn SelectionObserver) (cancel func()) {
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() { delete(s.observers, id) }
}

func (s *Selection) publish(ids, previous []string) {
	keys := make([]uint64, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if fn, ok := s.observers[k]; ok {
			fn(ids, previous)
		}
	}
}
