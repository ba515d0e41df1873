package domain

// MessageKind discriminates the notification message union.
type MessageKind string

const (
	KindPropertyChanged  MessageKind = "propertyChanged"
	KindSelectionChanged MessageKind = "selectionChanged"
	KindNodeChanged      MessageKind = "nodeChanged"
	KindBatch            MessageKind = "batch"
)

// Action is the kind of structural change in a node record.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionMove    Action = "move"
	ActionReplace Action = "replace"
)

// Message is a transport-agnostic notification. Only the fields relevant to Kind are set.
// It never holds entity references, so it can be serialized as-is.
type Message struct {
	Kind MessageKind `json:"kind"`

	// MutationID is set on top-level flushed messages only.
	MutationID string `json:"mutationId,omitempty"`

	// propertyChanged
	EntityID     string `json:"entityId,omitempty"`
	PropertyName string `json:"propertyName,omitempty"`
	OldValue     any    `json:"oldValue,omitempty"`
	NewValue     any    `json:"newValue,omitempty"`
	Rev          int64  `json:"rev,omitempty"`

	// selectionChanged
	IDs         []string `json:"ids,omitempty"`
	PreviousIDs []string `json:"previousIds,omitempty"`

	// nodeChanged
	Records []NodeRecord `json:"records,omitempty"`

	// batch
	Events []Message `json:"events,omitempty"`
}

// NodeRecord is the serializable form of a structural change record.
type NodeRecord struct {
	EntityID   string `json:"entityId"`
	Rev        int64  `json:"rev,omitempty"`
	Action     Action `json:"action"`
	ParentID   string `json:"parentId,omitempty"`
	PreviousID string `json:"previousId,omitempty"`
	From       int    `json:"from,omitempty"`
	To         int    `json:"to,omitempty"`

	// ReplacedID is the entity swapped out by a replace.
	ReplacedID string `json:"replacedId,omitempty"`

	// Snapshot carries the full subtree for add and replace.
	Snapshot *EntitySnapshot `json:"snapshot,omitempty"`
}

// NewPropertyChanged builds a propertyChanged message.
func NewPropertyChanged(entityID, name string, oldValue, newValue any, rev int64) Message {
	return Message{
		Kind:         KindPropertyChanged,
		EntityID:     entityID,
		PropertyName: name,
		OldValue:     oldValue,
		NewValue:     newValue,
		Rev:          rev,
	}
}

// NewSelectionChanged builds a selectionChanged message.
func NewSelectionChanged(ids, previous []string) Message {
	return Message{
		Kind:        KindSelectionChanged,
		IDs:         ids,
		PreviousIDs: previous,
	}
}

// NewNodeChanged builds a nodeChanged message.
func NewNodeChanged(records []NodeRecord) Message {
	return Message{
		Kind:    KindNodeChanged,
		Records: records,
	}
}

// NewBatch wraps events in a batch message.
func NewBatch(events []Message) Message {
	return Message{
		Kind:   KindBatch,
		Events: events,
	}
}

// Flatten returns the primitive events of m in order, unwrapping batches.
func (m Message) Flatten() []Message {
	if m.Kind != KindBatch {
		return []Message{m}
	}
	var out []Message
	for _, e := range m.Events {
		out = append(out, e.Flatten()...)
	}
	return out
}
