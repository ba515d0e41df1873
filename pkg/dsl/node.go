package dsl

import (
	"fmt"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/scene"
)

// NodeBuilder provides a fluent API for configuring an entity.
type NodeBuilder struct {
	node    *scene.Node
	parent  *NodeBuilder
	builder *Builder
}

// ID returns the entity id.
func (n *NodeBuilder) ID() string { return n.node.ID() }

// Name sets the display name.
func (n *NodeBuilder) Name(v string) *NodeBuilder {
	n.node.SetName(v)
	return n
}

// Hidden marks the entity invisible.
func (n *NodeBuilder) Hidden() *NodeBuilder {
	n.node.SetVisible(false)
	return n
}

// Layer sets the layer id.
func (n *NodeBuilder) Layer(id string) *NodeBuilder {
	n.node.SetLayerID(id)
	return n
}

// Material sets the material id.
func (n *NodeBuilder) Material(id string) *NodeBuilder {
	n.node.SetMaterialID(id)
	return n
}

// At sets a translation transform.
func (n *NodeBuilder) At(x, y, z float64) *NodeBuilder {
	n.node.SetTransform(domain.Translation(domain.Vector3{X: x, Y: y, Z: z}))
	return n
}

// Custom sets a dynamic property.
func (n *NodeBuilder) Custom(key string, v domain.Value) *NodeBuilder {
	if v == nil {
		n.builder.errs = append(n.builder.errs, fmt.Errorf("%w: nil custom value %q on %q", domain.ErrInvalidValue, key, n.node.ID()))
		return n
	}
	n.node.SetCustom(key, v)
	return n
}

// Rev sets the entity revision, e.g. to build a snapshot of an edited tree.
func (n *NodeBuilder) Rev(r int64) *NodeBuilder {
	n.node.SetRev(r)
	return n
}

// Folder adds a child folder and returns its builder.
func (n *NodeBuilder) Folder(id string) *NodeBuilder {
	return n.builder.add(n, domain.TypeFolder, id)
}

// Geometry adds a child geometry entity and returns its builder.
func (n *NodeBuilder) Geometry(id string) *NodeBuilder {
	return n.builder.add(n, domain.TypeGeometry, id)
}

// Metadata adds a child metadata entity and returns its builder.
func (n *NodeBuilder) Metadata(id string) *NodeBuilder {
	return n.builder.add(n, domain.TypeMetadata, id)
}

// Up returns the parent builder, or n itself at the root.
func (n *NodeBuilder) Up() *NodeBuilder {
	if n.parent == nil {
		return n
	}
	return n.parent
}
