package domain

import (
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventFlush          EventType = "flush"
	EventTransportError EventType = "transport_error"
	EventEnvelope       EventType = "envelope"
	EventOp             EventType = "op"
	EventCommit         EventType = "commit"
	EventRollback       EventType = "rollback"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// FlushEvent is emitted after the notifier delivered one message to its transports.
type FlushEvent struct {
	EventBase
	MutationID string `json:"mutation_id"`
	Events     int    `json:"events"`
	Transports int    `json:"transports"`
}

// TransportErrorEvent is emitted when a transport rejected a message.
type TransportErrorEvent struct {
	EventBase
	Transport  string `json:"transport"`
	MutationID string `json:"mutation_id"`
	Err        error  `json:"-"`
}

// EnvelopeEvent is emitted once per inbound envelope.
type EnvelopeEvent struct {
	EventBase
	MutationID string `json:"mutation_id"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Ops        int    `json:"ops"`
}

// OpOutcome is the result of applying one patch operation.
type OpOutcome string

const (
	OpApplied OpOutcome = "applied"
	OpStale   OpOutcome = "stale"
	OpMissing OpOutcome = "missing"
	OpInvalid OpOutcome = "invalid"
)

// OpEvent is emitted for each leaf patch operation.
type OpEvent struct {
	EventBase
	OpType   PatchType `json:"op_type"`
	EntityID string    `json:"entity_id,omitempty"`
	Outcome  OpOutcome `json:"outcome"`
}

// TransactionEvent is emitted on commit and rollback.
type TransactionEvent struct {
	EventBase
	Name    string `json:"name"`
	Records int    `json:"records"`
}

// Hooks defines callbacks for replication observability.
// Nil callbacks are skipped.
type Hooks struct {
	OnFlush          func(*FlushEvent)
	OnTransportError func(*TransportErrorEvent)
	OnEnvelope       func(*EnvelopeEvent)
	OnOp             func(*OpEvent)
	OnCommit         func(*TransactionEvent)
	OnRollback       func(*TransactionEvent)
}

// Merge returns hooks that call h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnFlush:          chain(h.OnFlush, other.OnFlush),
		OnTransportError: chain(h.OnTransportError, other.OnTransportError),
		OnEnvelope:       chain(h.OnEnvelope, other.OnEnvelope),
		OnOp:             chain(h.OnOp, other.OnOp),
		OnCommit:         chain(h.OnCommit, other.OnCommit),
		OnRollback:       chain(h.OnRollback, other.OnRollback),
	}
}

func chain[E any](a, b func(*E)) func(*E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(e *E) {
		a(e)
		b(e)
	}
}

// NewBase stamps an event with the current time.
func NewBase(t EventType) EventBase {
	return EventBase{Timestamp: time.Now(), Type: t}
}
