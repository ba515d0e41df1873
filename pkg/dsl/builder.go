package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/registry"
	"github.com/aretw0/scenesync/pkg/scene"
)

// Builder manages the tree construction.
type Builder struct {
	reg   *registry.Registry
	root  *NodeBuilder
	nodes map[string]*NodeBuilder
	errs  []error
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistry encodes the tree with reg instead of the default registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(b *Builder) {
		b.reg = reg
	}
}

// WithRootID names the root folder. Defaults to "root", the id of a new document's root.
func WithRootID(id string) Option {
	return func(b *Builder) {
		b.root.node = scene.NewNode(domain.TypeFolder, id)
	}
}

// New creates a tree builder with an empty root folder.
func New(opts ...Option) *Builder {
	b := &Builder{nodes: make(map[string]*NodeBuilder)}
	b.root = &NodeBuilder{node: scene.NewNode(domain.TypeFolder, "root"), builder: b}
	for _, opt := range opts {
		opt(b)
	}
	if b.reg == nil {
		b.reg = registry.NewRegistry()
	}
	b.nodes[b.root.node.ID()] = b.root
	return b
}

// Root returns the builder of the root folder.
func (b *Builder) Root() *NodeBuilder { return b.root }

// Folder adds a folder under the root.
func (b *Builder) Folder(id string) *NodeBuilder { return b.root.Folder(id) }

// Geometry adds a geometry entity under the root.
func (b *Builder) Geometry(id string) *NodeBuilder { return b.root.Geometry(id) }

// Metadata adds a metadata entity under the root.
func (b *Builder) Metadata(id string) *NodeBuilder { return b.root.Metadata(id) }

// Get returns the builder of an already added entity.
func (b *Builder) Get(id string) (*NodeBuilder, bool) {
	nb, ok := b.nodes[id]
	return nb, ok
}

// Build encodes the tree. Duplicate ids and rejected values are reported here.
func (b *Builder) Build() (domain.EntitySnapshot, error) {
	if len(b.errs) > 0 {
		return domain.EntitySnapshot{}, fmt.Errorf("failed to build scene: %w", errors.Join(b.errs...))
	}
	return b.reg.Encode(b.root.node), nil
}

// Node builds a detached copy of the tree, ready to be added to a document.
func (b *Builder) Node() (*scene.Node, error) {
	snap, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.reg.Decode(snap)
}

func (b *Builder) add(parent *NodeBuilder, typeTag, id string) *NodeBuilder {
	nb := &NodeBuilder{node: scene.NewNode(typeTag, id), parent: parent, builder: b}
	if _, dup := b.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: duplicate id %q", domain.ErrInvalidValue, id))
		return nb
	}
	b.nodes[id] = nb
	parent.node.AddChild(nb.node)
	return nb
}
