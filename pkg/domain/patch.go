package domain

// PatchType discriminates the patch operation union.
type PatchType string

const (
	PatchAdd          PatchType = "add"
	PatchRemove       PatchType = "remove"
	PatchUpdate       PatchType = "update"
	PatchUpdateVisual PatchType = "updateVisual"
	PatchUpdateGeom   PatchType = "updateGeom"
	PatchUpdateBiz    PatchType = "updateBiz"
	PatchBatch        PatchType = "batch"
)

// IsUpdate reports whether t is one of the three field-update channels.
// The channels differ only for routing and priority; they apply identically.
func (t PatchType) IsUpdate() bool {
	return t == PatchUpdate || t == PatchUpdateVisual || t == PatchUpdateGeom
}

// PatchEnvelope is the outer replication message.
type PatchEnvelope struct {
	MutationID string    `json:"mutationId"`
	Patches    []PatchOp `json:"patches"`
}

// PatchOp is one mutation instruction. Only the fields relevant to Type are set.
type PatchOp struct {
	Type PatchType `json:"type"`

	// update*, updateBiz
	ID  string `json:"id,omitempty"`
	Rev int64  `json:"rev,omitempty"`

	// update*
	Set   map[string]any `json:"set,omitempty"`
	Unset []string       `json:"unset,omitempty"`

	// updateBiz
	Values map[string]TypedValue `json:"values,omitempty"`

	// remove
	IDs []string `json:"ids,omitempty"`

	// add
	ParentID   string          `json:"parentId,omitempty"`
	PreviousID string          `json:"previousId,omitempty"`
	Entity     *EntitySnapshot `json:"entity,omitempty"`

	// batch
	Ops []PatchOp `json:"ops,omitempty"`
}

// TypedValue is a dynamic property value on the wire: {"t": tag, "v": value}.
// T == ValueDelete removes the key.
type TypedValue struct {
	T ValueType `json:"t"`
	V any       `json:"v,omitempty"`
}

// EntitySnapshot is the wire form of an entity and its subtree.
// The two dynamic channels travel as serialized JSON objects.
type EntitySnapshot struct {
	Type                string           `json:"type"`
	ID                  string           `json:"id"`
	Rev                 int64            `json:"rev,omitempty"`
	Fields              map[string]any   `json:"fields,omitempty"`
	CustomProperties    string           `json:"customProperties,omitempty"`
	CustomPropertyTypes string           `json:"customPropertyTypes,omitempty"`
	Children            []EntitySnapshot `json:"children,omitempty"`
}
