// Package registry maps stable entity type tags to their construction and
// serialization rules. Only fields a type declares are serialized.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/scenesync/pkg/codec"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/scene"
)

// Constructor creates an empty node of a registered type.
type Constructor func(id string) *scene.Node

// EntityType declares how one entity type is built and serialized.
type EntityType struct {
	Tag string
	// Fields lists the schema fields that are serialized for this type.
	Fields []string
	// Custom enables the two dynamic property channels.
	Custom bool
	// Construct defaults to scene.NewNode with Tag.
	Construct Constructor
}

// Option configures a Registry.
type Option func(*Registry)

// WithShapeFactory validates geometry entities through the geometry kernel on decode.
func WithShapeFactory(f ports.ShapeFactory) Option {
	return func(r *Registry) {
		r.shapes = f
	}
}

// Registry manages the available entity types.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]EntityType
	shapes ports.ShapeFactory
}

// NewRegistry creates a registry with the built-in folder, geometry and metadata types.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		types: make(map[string]EntityType),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Register(EntityType{
		Tag:    domain.TypeFolder,
		Fields: []string{domain.FieldName, domain.FieldVisible},
	})
	r.Register(EntityType{
		Tag:    domain.TypeGeometry,
		Fields: domain.SchemaFields,
		Custom: true,
	})
	r.Register(EntityType{
		Tag:    domain.TypeMetadata,
		Fields: []string{domain.FieldName},
		Custom: true,
	})
	return r
}

// Register adds an entity type.
// If a type with the same tag exists, it is overwritten.
func (r *Registry) Register(t EntityType) {
	if t.Construct == nil {
		tag := t.Tag
		t.Construct = func(id string) *scene.Node { return scene.NewNode(tag, id) }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Tag] = t
}

// Lookup returns the registration for tag.
func (r *Registry) Lookup(tag string) (EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[tag]
	return t, ok
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Encode snapshots n and its subtree. Nodes of unregistered types are
// encoded with their id, revision and children only.
func (r *Registry) Encode(n *scene.Node) domain.EntitySnapshot {
	snap := domain.EntitySnapshot{
		Type: n.TypeTag(),
		ID:   n.ID(),
		Rev:  n.Rev(),
	}

	if t, ok := r.Lookup(n.TypeTag()); ok {
		for _, f := range t.Fields {
			if !n.Has(f) {
				continue
			}
			if snap.Fields == nil {
				snap.Fields = make(map[string]any, len(t.Fields))
			}
			snap.Fields[f] = n.Get(f, nil)
		}
		if t.Custom {
			props, types, err := codec.EncodeCustom(n.CustomProps(), n.CustomTypes())
			if err == nil {
				snap.CustomProperties, snap.CustomPropertyTypes = props, types
			}
		}
	}

	for c := range n.Children().All() {
		snap.Children = append(snap.Children, r.Encode(c))
	}
	return snap
}

// Decode materializes a detached node tree from snap. Unknown type tags and
// fields that do not decode are errors; malformed dynamic channels are not.
func (r *Registry) Decode(snap domain.EntitySnapshot) (*scene.Node, error) {
	t, ok := r.Lookup(snap.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (entity %s)", domain.ErrUnknownEntityType, snap.Type, snap.ID)
	}

	n := t.Construct(snap.ID)
	if err := r.Fill(n, t, snap); err != nil {
		return nil, err
	}

	for _, cs := range snap.Children {
		child, err := r.Decode(cs)
		if err != nil {
			return nil, err
		}
		n.Children().Push(child)
	}
	return n, nil
}

// Fill copies the declared fields and dynamic channels of snap onto n.
func (r *Registry) Fill(n *scene.Node, t EntityType, snap domain.EntitySnapshot) error {
	for _, f := range t.Fields {
		raw, ok := snap.Fields[f]
		if !ok {
			continue
		}
		v, err := codec.DecodeField(f, raw)
		if err != nil {
			return fmt.Errorf("entity %s: %w", snap.ID, err)
		}
		n.Set(f, v)
	}
	if t.Custom {
		props, types := codec.DecodeCustom(snap.CustomProperties, snap.CustomPropertyTypes)
		if len(props) > 0 {
			n.SetCustomChannels(props, types)
		}
		if snap.Type == domain.TypeGeometry && r.shapes != nil {
			if err := r.shapes.Build(snap.ID, props); err != nil {
				return fmt.Errorf("entity %s: shape: %w", snap.ID, err)
			}
		}
	}
	n.SetRev(snap.Rev)
	return nil
}
