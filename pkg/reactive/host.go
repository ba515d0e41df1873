// Package reactive provides a named property bag with synchronous change subscription.
package reactive

import (
	"reflect"
	"sort"
)

// Change describes one property transition.
// Old is nil when the property was absent; New is nil after Unset.
type Change struct {
	Name   string
	Old    any
	New    any
	HadOld bool
	Source any
}

// Listener receives property changes.
type Listener func(Change)

// EqualFunc decides whether two values are the same for change detection.
type EqualFunc func(a, b any) bool

// Option configures a Host.
type Option func(*Host)

// WithEqual replaces the default equality.
func WithEqual(eq EqualFunc) Option {
	return func(h *Host) {
		h.equal = eq
	}
}

// Host stores named values and notifies listeners when one of them changes.
// It is not safe for concurrent use; callers serialize access.
type Host struct {
	source    any
	values    map[string]any
	equal     EqualFunc
	listeners map[uint64]Listener
	nextID    uint64
}

// New creates a Host. source is passed to listeners as Change.Source;
// when nil, the host itself is used.
func New(source any, opts ...Option) *Host {
	h := &Host{
		source:    source,
		values:    make(map[string]any),
		equal:     Equal,
		listeners: make(map[uint64]Listener),
	}
	if h.source == nil {
		h.source = h
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns the stored value or def.
func (h *Host) Get(name string, def any) any {
	if v, ok := h.values[name]; ok {
		return v
	}
	return def
}

// Has reports whether name is stored.
func (h *Host) Has(name string) bool {
	_, ok := h.values[name]
	return ok
}

// Names returns the stored property names, sorted.
func (h *Host) Names() []string {
	names := make([]string, 0, len(h.values))
	for k := range h.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Set stores value and notifies listeners if it differs from the previous one.
// It returns whether a change happened.
func (h *Host) Set(name string, value any) bool {
	return h.SetWith(name, value, h.equal)
}

// SetWith is Set with a per-call equality.
func (h *Host) SetWith(name string, value any, eq EqualFunc) bool {
	old, had := h.values[name]
	if had && eq(old, value) {
		return false
	}
	h.values[name] = value
	h.emit(Change{Name: name, Old: old, New: value, HadOld: had, Source: h.source})
	return true
}

// Unset removes name if present and notifies with a nil New.
func (h *Host) Unset(name string) bool {
	old, had := h.values[name]
	if !had {
		return false
	}
	delete(h.values, name)
	h.emit(Change{Name: name, Old: old, HadOld: true, Source: h.source})
	return true
}

// Restore puts a property back to a previous state: present with old, or absent.
// Used by undo records.
func (h *Host) Restore(name string, old any, had bool) bool {
	if had {
		return h.Set(name, old)
	}
	return h.Unset(name)
}

// Subscribe registers l and returns a handle that removes it.
func (h *Host) Subscribe(l Listener) Subscription {
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	return Subscription{host: h, id: id}
}

// Listeners returns the number of live subscribers.
func (h *Host) Listeners() int {
	return len(h.listeners)
}

func (h *Host) emit(c Change) {
	if len(h.listeners) == 0 {
		return
	}
	// Snapshot so listeners may subscribe, cancel, or set re-entrantly.
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if l, ok := h.listeners[id]; ok {
			l(c)
		}
	}
}

// Subscription is a cancel handle returned by Subscribe.
type Subscription struct {
	host *Host
	id   uint64
}

// Cancel removes the listener. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.host != nil {
		delete(s.host.listeners, s.id)
	}
}

// Equal is the default equality: == for comparable dynamic types,
// reflect.DeepEqual otherwise.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
