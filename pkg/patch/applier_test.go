package patch

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/reactive"
	"github.com/aretw0/scenesync/pkg/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingVisual struct{ updates int }

func (v *countingVisual) Update() { v.updates++ }

type replica struct {
	doc     *scene.Document
	visual  *countingVisual
	applier *Applier
	n1      *scene.Node
	n3      *scene.Node
	changes []reactive.Change
}

func newReplica(t *testing.T, opts ...Option) *replica {
	t.Helper()
	r := &replica{visual: &countingVisual{}}
	r.doc = scene.NewDocument(scene.WithVisual(r.visual))
	r.n1 = scene.NewNode(domain.TypeGeometry, "n1")
	r.n1.SetName("one")
	r.n3 = scene.NewNode(domain.TypeGeometry, "n3")
	r.n3.SetName("three")
	require.True(t, r.doc.Root().AddChild(r.n1))
	require.True(t, r.doc.Root().AddChild(r.n3))
	for _, n := range []*scene.Node{r.n1, r.n3} {
		n.Subscribe(func(c reactive.Change) { r.changes = append(r.changes, c) })
	}
	r.applier = NewApplier(r.doc, opts...)
	return r
}

// fromJSON makes the envelope look like it came over the wire.
func fromJSON(t *testing.T, s string) domain.PatchEnvelope {
	t.Helper()
	var env domain.PatchEnvelope
	require.NoError(t, json.Unmarshal([]byte(s), &env))
	return env
}

func TestApply_UpdateSchemaAndDynamicFields(t *testing.T) {
	r := newReplica(t)

	res := r.applier.ApplyPatchEnvelope(fromJSON(t, `{
		"mutationId": "m1",
		"patches": [
			{"type": "update", "id": "n1", "rev": 1, "set": {"name": "renamed", "color": "red"}},
			{"type": "updateGeom", "id": "n1", "rev": 2, "set": {"transform": [1,0,0,0, 0,1,0,0, 0,0,1,0, 4,5,6,1]}},
			{"type": "updateVisual", "id": "n3", "rev": 1, "set": {"visible": false, "materialId": "steel"}}
		]
	}`))

	assert.Equal(t, Result{MutationID: "m1", Applied: 3}, res)
	assert.Equal(t, "renamed", r.n1.Name())
	assert.Equal(t, domain.Translation(domain.Vector3{X: 4, Y: 5, Z: 6}), r.n1.Transform())
	assert.Equal(t, int64(2), r.n1.Rev())
	color, ok := r.n1.Custom("color")
	require.True(t, ok)
	assert.Equal(t, domain.String("red"), color)
	assert.False(t, r.n3.Visible())
	assert.Equal(t, "steel", r.n3.MaterialID())
	assert.Equal(t, 1, r.visual.updates)
}

func TestApply_Unset(t *testing.T) {
	r := newReplica(t)
	r.n1.SetLayerID("L1")
	r.n1.SetCustom("color", domain.String("red"))

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{
			{Type: domain.PatchUpdate, ID: "n1", Rev: 1, Unset: []string{domain.FieldLayerID, "color", "absent"}},
		},
	})

	assert.Equal(t, 1, res.Applied)
	assert.False(t, r.n1.Has(domain.FieldLayerID))
	_, ok := r.n1.Custom("color")
	assert.False(t, ok)
	assert.NotContains(t, r.n1.CustomTypes(), "color")
}

func TestApply_UpdateBiz(t *testing.T) {
	r := newReplica(t)
	r.n1.SetCustom("old", domain.Number(1))
	r.n1.SetCustom("keep", domain.Bool(true))

	res := r.applier.ApplyPatchEnvelope(fromJSON(t, `{
		"mutationId": "m1",
		"patches": [{
			"type": "updateBiz", "id": "n1", "rev": 4,
			"values": {
				"old":    {"t": "delete"},
				"axis":   {"t": "vector", "v": {"x": 0, "y": 0, "z": 1}},
				"base":   {"t": "plane", "v": {"origin": {"x": 1, "y": 0, "z": 0}, "normal": {"x": 0, "y": 0, "z": 1}, "xvec": {"x": 1, "y": 0, "z": 0}}},
				"height": {"t": "number", "v": 12.5}
			}
		}]
	}`))

	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, domain.CustomProps{
		"keep":   domain.Bool(true),
		"axis":   domain.Vector3{Z: 1},
		"base":   domain.Plane{Origin: domain.Vector3{X: 1}, Normal: domain.Vector3{Z: 1}, XVec: domain.Vector3{X: 1}},
		"height": domain.Number(12.5),
	}, r.n1.CustomProps())
	assert.Equal(t, domain.CustomTypes{
		"keep":   domain.ValueBoolean,
		"axis":   domain.ValueVector,
		"base":   domain.ValuePlane,
		"height": domain.ValueNumber,
	}, r.n1.CustomTypes())
}

func TestApply_InvalidValuesAreSkipped(t *testing.T) {
	r := newReplica(t)

	res := r.applier.ApplyPatchEnvelope(fromJSON(t, `{
		"mutationId": "m1",
		"patches": [
			{"type": "updateBiz", "id": "n1", "rev": 1, "values": {"bad": {"t": "vector", "v": "up"}, "ok": {"t": "string", "v": "x"}}},
			{"type": "update", "id": "n3", "rev": 1, "set": {"transform": "identity", "name": "fine"}},
			{"type": "teleport", "id": "n3"}
		]
	}`))

	assert.Equal(t, 3, res.Invalid)
	v, ok := r.n1.Custom("ok")
	require.True(t, ok, "valid keys of a partially invalid op are still applied")
	assert.Equal(t, domain.String("x"), v)
	assert.Equal(t, "fine", r.n3.Name())
}

func TestApply_RevisionGate(t *testing.T) {
	r := newReplica(t)
	r.n1.SetRev(5)

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{
			{Type: domain.PatchUpdate, ID: "n1", Rev: 3, Set: map[string]any{domain.FieldName: "stale"}},
			{Type: domain.PatchUpdateBiz, ID: "n1", Rev: 4, Values: map[string]domain.TypedValue{"k": {T: domain.ValueNumber, V: 1.0}}},
			{Type: domain.PatchUpdate, ID: "n1", Rev: 5, Set: map[string]any{domain.FieldLayerID: "same-rev"}},
		},
	})

	assert.Equal(t, 2, res.Stale)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, "one", r.n1.Name())
	assert.Empty(t, r.n1.CustomProps())
	assert.Equal(t, "same-rev", r.n1.LayerID(), "an equal revision is applied")
}

func TestApply_MissingEntityIsSkipped(t *testing.T) {
	r := newReplica(t)

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{
			{Type: domain.PatchUpdate, ID: "ghost", Rev: 1, Set: map[string]any{domain.FieldName: "x"}},
			{Type: domain.PatchRemove, IDs: []string{"ghost"}},
			{Type: domain.PatchUpdate, ID: "n3", Rev: 1, Set: map[string]any{domain.FieldName: "x"}},
		},
	})

	assert.Equal(t, 2, res.Missing)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, "x", r.n3.Name())
}

func TestApply_DuplicateEnvelope(t *testing.T) {
	r := newReplica(t)
	env := domain.PatchEnvelope{
		MutationID: "m1",
		Patches:    []domain.PatchOp{{Type: domain.PatchUpdate, ID: "n1", Rev: 1, Set: map[string]any{domain.FieldName: "x"}}},
	}

	first := r.applier.ApplyPatchEnvelope(env)
	r.n1.SetName("local edit")
	second := r.applier.ApplyPatchEnvelope(env)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "local edit", r.n1.Name())
	assert.Equal(t, "m1", r.applier.LastApplied())
}

func TestApply_DuplicateAfterNewerEnvelope(t *testing.T) {
	r := newReplica(t)
	rename := func(id, name string) domain.PatchEnvelope {
		return domain.PatchEnvelope{
			MutationID: id,
			Patches:    []domain.PatchOp{{Type: domain.PatchUpdate, ID: "n1", Set: map[string]any{domain.FieldName: name}}},
		}
	}

	assert.False(t, r.applier.ApplyPatchEnvelope(rename("m1", "first")).Duplicate)
	assert.False(t, r.applier.ApplyPatchEnvelope(rename("m2", "second")).Duplicate)
	res := r.applier.ApplyPatchEnvelope(rename("m1", "first"))

	assert.True(t, res.Duplicate, "an echo arriving after a newer envelope is still dropped")
	assert.Equal(t, "second", r.n1.Name())
	assert.Equal(t, 2, r.applier.Window().Len())
}

func TestApply_SharedWindowDropsOwnEnvelopes(t *testing.T) {
	window := NewWindow(0)
	window.Remember("sent-by-me")
	r := newReplica(t, WithWindow(window))

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "sent-by-me",
		Patches:    []domain.PatchOp{{Type: domain.PatchRemove, IDs: []string{"n1"}}},
	})

	assert.True(t, res.Duplicate)
	assert.NotNil(t, r.doc.Find("n1"))
	assert.Same(t, window, r.applier.Window())
}

func TestApply_StaleAddOfRemovedEntity(t *testing.T) {
	r := newReplica(t)
	r.n3.SetRev(3)
	require.True(t, r.n3.Detach())

	add := func(id string, rev int64) Result {
		return r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
			MutationID: id,
			Patches: []domain.PatchOp{{
				Type:   domain.PatchAdd,
				Entity: &domain.EntitySnapshot{Type: domain.TypeGeometry, ID: "n3", Rev: rev},
			}},
		})
	}

	assert.Equal(t, 1, add("late", 2).Stale)
	assert.Equal(t, 1, add("same", 3).Stale, "the removal wins a tie")
	assert.Nil(t, r.doc.Find("n3"))

	assert.Equal(t, 1, add("readd", 4).Applied)
	n := r.doc.Find("n3")
	require.NotNil(t, n)
	assert.Equal(t, int64(4), n.Rev())
	_, buried := r.doc.Tombstone("n3")
	assert.False(t, buried)
}

func TestApply_AddWithoutRevisionIgnoresTombstone(t *testing.T) {
	r := newReplica(t)
	r.n3.SetRev(3)
	require.True(t, r.n3.Detach())

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "tool",
		Patches: []domain.PatchOp{{
			Type:   domain.PatchAdd,
			Entity: &domain.EntitySnapshot{Type: domain.TypeGeometry, ID: "n3"},
		}},
	})

	assert.Equal(t, 1, res.Applied)
	n := r.doc.Find("n3")
	require.NotNil(t, n)
	assert.Equal(t, int64(3), n.Rev(), "a re-added id keeps its removed revision")
}

func TestApply_StaleRemove(t *testing.T) {
	remove := func(rev int64) domain.PatchEnvelope {
		return domain.PatchEnvelope{
			MutationID: "rm",
			Patches:    []domain.PatchOp{{Type: domain.PatchRemove, IDs: []string{"n1"}, Rev: rev}},
		}
	}

	r := newReplica(t)
	r.n1.SetRev(5)
	res := r.applier.ApplyPatchEnvelope(remove(3))
	assert.Equal(t, 1, res.Stale)
	assert.NotNil(t, r.doc.Find("n1"), "a remove older than the local entity is ignored")

	r = newReplica(t)
	r.n1.SetRev(5)
	assert.Equal(t, 1, r.applier.ApplyPatchEnvelope(remove(5)).Applied)
	assert.Nil(t, r.doc.Find("n1"))

	r = newReplica(t)
	r.n1.SetRev(5)
	assert.Equal(t, 1, r.applier.ApplyPatchEnvelope(remove(0)).Applied, "a remove without revision is unconditional")
	assert.Nil(t, r.doc.Find("n1"))
}

func TestApply_MoveRaisesRevision(t *testing.T) {
	r := newReplica(t)
	r.n1.SetRev(2)
	move := func(id string, rev int64) {
		r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
			MutationID: id,
			Patches: []domain.PatchOp{{
				Type:       domain.PatchAdd,
				PreviousID: "n3",
				Entity:     &domain.EntitySnapshot{ID: "n1", Rev: rev},
			}},
		})
	}

	move("m1", 6)
	assert.Equal(t, []string{"n3", "n1"}, idsOf(r.doc.Root()))
	assert.Equal(t, int64(6), r.n1.Rev())

	move("m2", 1)
	assert.Equal(t, int64(6), r.n1.Rev(), "revisions never go back")
}

func TestApply_Idempotent(t *testing.T) {
	env := fromJSON(t, `{
		"mutationId": "m1",
		"patches": [
			{"type": "update", "id": "n1", "rev": 2, "set": {"name": "x"}},
			{"type": "updateBiz", "id": "n3", "rev": 1, "values": {"h": {"t": "number", "v": 3}}},
			{"type": "add", "parentId": "n1", "entity": {"type": "geometry", "id": "n2", "fields": {"name": "child"}}},
			{"type": "remove", "ids": ["n3"]}
		]
	}`)

	once := newReplica(t)
	once.applier.ApplyPatchEnvelope(env)

	twice := newReplica(t)
	twice.applier.ApplyPatchEnvelope(env)
	changesAfterFirst := len(twice.changes)

	redelivered := env
	redelivered.MutationID = "m1-redelivered"
	twice.applier.ApplyPatchEnvelope(redelivered)

	reg := twice.applier.registry
	assert.Equal(t, reg.Encode(once.doc.Root()), reg.Encode(twice.doc.Root()))
	assert.Equal(t, changesAfterFirst, len(twice.changes), "re-application emits no property changes")
}

func TestApply_BatchIsNotAtomic(t *testing.T) {
	r := newReplica(t)
	r.n3.SetRev(10)

	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{{
			Type: domain.PatchBatch,
			Ops: []domain.PatchOp{
				{Type: domain.PatchUpdate, ID: "n1", Rev: 1, Set: map[string]any{domain.FieldName: "first"}},
				{Type: domain.PatchUpdate, ID: "n3", Rev: 2, Set: map[string]any{domain.FieldName: "stale"}},
				{Type: domain.PatchUpdate, ID: "missing", Rev: 1, Set: map[string]any{domain.FieldName: "x"}},
				{Type: domain.PatchBatch, Ops: []domain.PatchOp{
					{Type: domain.PatchUpdate, ID: "n1", Rev: 2, Set: map[string]any{domain.FieldLayerID: "nested"}},
				}},
			},
		}},
	})

	// A stale or missing sibling does not undo or block the others.
	assert.Equal(t, Result{MutationID: "m1", Applied: 2, Stale: 1, Missing: 1}, res)
	assert.Equal(t, "first", r.n1.Name())
	assert.Equal(t, "nested", r.n1.LayerID())
	assert.Equal(t, "three", r.n3.Name())
}

func TestApply_AddAndMove(t *testing.T) {
	r := newReplica(t)
	root := r.doc.Root()

	res := r.applier.ApplyPatchEnvelope(fromJSON(t, `{
		"mutationId": "m1",
		"patches": [
			{"type": "add", "previousId": "n1", "entity": {
				"type": "folder", "id": "f", "rev": 3, "fields": {"name": "Group"},
				"children": [{"type": "geometry", "id": "g", "customProperties": "{\"h\":2}", "customPropertyTypes": "{\"h\":\"number\"}"}]
			}},
			{"type": "add", "parentId": "f", "entity": {"id": "n3"}},
			{"type": "add", "entity": {"type": "sketch", "id": "s"}},
			{"type": "add", "parentId": "nowhere", "entity": {"type": "folder", "id": "x"}}
		]
	}`))

	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Missing)

	f := r.doc.Find("f")
	require.NotNil(t, f)
	assert.Equal(t, int64(3), f.Rev())
	assert.Equal(t, []string{"n1", "f"}, idsOf(root))
	assert.Equal(t, []string{"n3", "g"}, idsOf(f), "an add naming an existing entity relocates it")
	h, _ := r.doc.Find("g").Custom("h")
	assert.Equal(t, domain.Number(2), h)
}

func TestApply_AddWithUnknownPreviousAppends(t *testing.T) {
	r := newReplica(t)
	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{
			{Type: domain.PatchAdd, PreviousID: "not-yet", Entity: &domain.EntitySnapshot{Type: domain.TypeFolder, ID: "late"}},
		},
	})
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, []string{"n1", "n3", "late"}, idsOf(r.doc.Root()))
}

func TestApply_RemoveRootIsIgnored(t *testing.T) {
	r := newReplica(t)
	res := r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches:    []domain.PatchOp{{Type: domain.PatchRemove, IDs: []string{"root", "n1"}}},
	})
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, []string{"n3"}, idsOf(r.doc.Root()))
}

func TestApply_NotRecordedInHistory(t *testing.T) {
	r := newReplica(t)
	h := r.doc.History()

	require.NoError(t, h.Start("local"))
	r.applier.ApplyPatchEnvelope(domain.PatchEnvelope{
		MutationID: "m1",
		Patches:    []domain.PatchOp{{Type: domain.PatchUpdate, ID: "n1", Rev: 1, Set: map[string]any{domain.FieldName: "remote"}}},
	})
	r.n3.SetName("local")
	require.NoError(t, h.Commit())

	assert.False(t, h.Disabled(), "the previous flag is restored")
	require.True(t, r.doc.Undo())
	assert.Equal(t, "remote", r.n1.Name())
	assert.Equal(t, "three", r.n3.Name())
}

func TestApply_Hooks(t *testing.T) {
	var ops []*domain.OpEvent
	var envs []*domain.EnvelopeEvent
	r := newReplica(t, WithHooks(domain.Hooks{
		OnOp:       func(e *domain.OpEvent) { ops = append(ops, e) },
		OnEnvelope: func(e *domain.EnvelopeEvent) { envs = append(envs, e) },
	}))
	r.n1.SetRev(9)

	env := domain.PatchEnvelope{
		MutationID: "m1",
		Patches: []domain.PatchOp{
			{Type: domain.PatchUpdate, ID: "n1", Rev: 1, Set: map[string]any{domain.FieldName: "x"}},
			{Type: domain.PatchRemove, IDs: []string{"n3"}},
		},
	}
	r.applier.ApplyPatchEnvelope(env)
	r.applier.ApplyPatchEnvelope(env)

	require.Len(t, ops, 2)
	assert.Equal(t, domain.OpStale, ops[0].Outcome)
	assert.Equal(t, "n1", ops[0].EntityID)
	assert.Equal(t, domain.OpApplied, ops[1].Outcome)
	assert.Equal(t, "n3", ops[1].EntityID)

	require.Len(t, envs, 2)
	assert.False(t, envs[0].Duplicate)
	assert.True(t, envs[1].Duplicate)
}

func idsOf(n *scene.Node) []string {
	var out []string
	for c := range n.Children().All() {
		out = append(out, c.ID())
	}
	return out
}
