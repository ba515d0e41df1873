package patch

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultWindow is how many mutation ids a Window remembers.
const DefaultWindow = 1024

// Window remembers recently seen mutation ids, forgetting the least recently
// seen first. An applier drops envelopes whose id is in its window; the
// notifier of the same replica records its outgoing ids into it, so a
// replica never re-applies its own changes or an envelope it already applied.
// Window is safe for concurrent use.
type Window struct {
	ids *lru.Cache[string, struct{}]
}

// NewWindow creates a window of size ids. A size below 1 uses DefaultWindow.
func NewWindow(size int) *Window {
	if size < 1 {
		size = DefaultWindow
	}
	ids, _ := lru.New[string, struct{}](size)
	return &Window{ids: ids}
}

// Remember adds id. Empty ids are ignored.
func (w *Window) Remember(id string) {
	if id == "" {
		return
	}
	w.ids.Add(id, struct{}{})
}

// Contains reports whether id was seen recently, refreshing it.
func (w *Window) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := w.ids.Get(id)
	return ok
}

// Len returns the number of remembered ids.
func (w *Window) Len() int { return w.ids.Len() }
