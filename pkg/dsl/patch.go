package dsl

import (
	"github.com/aretw0/scenesync/pkg/domain"
)

// PatchBuilder assembles a patch envelope op by op.
type PatchBuilder struct {
	env domain.PatchEnvelope
}

// Patch starts an envelope with the given mutation id.
func Patch(mutationID string) *PatchBuilder {
	return &PatchBuilder{env: domain.PatchEnvelope{MutationID: mutationID}}
}

// Add inserts snap under parentID after previousID. An empty previousID
// inserts at the head. Adding an existing id moves that entity.
func (p *PatchBuilder) Add(parentID, previousID string, snap domain.EntitySnapshot) *PatchBuilder {
	s := snap
	return p.op(domain.PatchOp{Type: domain.PatchAdd, ParentID: parentID, PreviousID: previousID, Entity: &s})
}

// Update sets fields on id, expected at revision rev.
func (p *PatchBuilder) Update(id string, rev int64, set map[string]any) *PatchBuilder {
	return p.op(domain.PatchOp{Type: domain.PatchUpdate, ID: id, Rev: rev, Set: set})
}

// Visual is Update on the visual channel.
func (p *PatchBuilder) Visual(id string, rev int64, set map[string]any) *PatchBuilder {
	return p.op(domain.PatchOp{Type: domain.PatchUpdateVisual, ID: id, Rev: rev, Set: set})
}

// Geom is Update on the geometry channel.
func (p *PatchBuilder) Geom(id string, rev int64, set map[string]any) *PatchBuilder {
	return p.op(domain.PatchOp{Type: domain.PatchUpdateGeom, ID: id, Rev: rev, Set: set})
}

// Unset resets fields on id to their defaults.
func (p *PatchBuilder) Unset(id string, rev int64, fields ...string) *PatchBuilder {
	return p.op(domain.PatchOp{Type: domain.PatchUpdate, ID: id, Rev: rev, Unset: fields})
}

// Biz writes dynamic properties on id. A nil value deletes the key.
func (p *PatchBuilder) Biz(id string, rev int64, values map[string]domain.Value) *PatchBuilder {
	typed := make(map[string]domain.TypedValue, len(values))
	for k, v := range values {
		if v == nil {
			typed[k] = domain.TypedValue{T: domain.ValueDelete}
			continue
		}
		typed[k] = domain.TypedValue{T: v.Type(), V: v}
	}
	return p.op(domain.PatchOp{Type: domain.PatchUpdateBiz, ID: id, Rev: rev, Values: typed})
}

// Remove deletes the given entities and their subtrees.
func (p *PatchBuilder) Remove(ids ...string) *PatchBuilder {
	return p.op(domain.PatchOp{Type: domain.PatchRemove, IDs: ids})
}

// Batch nests the ops built by fn as one batch op.
func (p *PatchBuilder) Batch(fn func(b *PatchBuilder)) *PatchBuilder {
	inner := &PatchBuilder{}
	fn(inner)
	return p.op(domain.PatchOp{Type: domain.PatchBatch, Ops: inner.env.Patches})
}

// Build returns the envelope.
func (p *PatchBuilder) Build() domain.PatchEnvelope {
	env := p.env
	env.Patches = append([]domain.PatchOp(nil), p.env.Patches...)
	return env
}

func (p *PatchBuilder) op(op domain.PatchOp) *PatchBuilder {
	p.env.Patches = append(p.env.Patches, op)
	return p
}
