package patch

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
)

// Channel returns the update channel a schema field travels on.
func Channel(field string) domain.PatchType {
	switch field {
	case domain.FieldTransform:
		return domain.PatchUpdateGeom
	case domain.FieldVisible, domain.FieldMaterialID:
		return domain.PatchUpdateVisual
	case domain.FieldCustomProperties:
		return domain.PatchUpdateBiz
	}
	return domain.PatchUpdate
}

// Encode turns a flushed notification message into a patch envelope.
// Consecutive updates of the same entity on the same channel are merged.
// Selection changes are local and produce nothing; ok is false when no
// operation remains.
func Encode(msg domain.Message) (env domain.PatchEnvelope, ok bool) {
	var ops []domain.PatchOp
	push := func(op domain.PatchOp) {
		if n := len(ops); n > 0 && merge(&ops[n-1], op) {
			return
		}
		ops = append(ops, op)
	}

	for _, e := range msg.Flatten() {
		switch e.Kind {
		case domain.KindPropertyChanged:
			if op, ok := encodeProperty(e); ok {
				push(op)
			}
		case domain.KindNodeChanged:
			for _, r := range e.Records {
				for _, op := range encodeRecord(r) {
					push(op)
				}
			}
		}
	}

	if len(ops) == 0 {
		return domain.PatchEnvelope{}, false
	}
	return domain.PatchEnvelope{MutationID: msg.MutationID, Patches: ops}, true
}

func encodeProperty(e domain.Message) (domain.PatchOp, bool) {
	switch e.PropertyName {
	case domain.FieldCustomPropertyTypes:
		// Types travel with their values in updateBiz.
		return domain.PatchOp{}, false
	case domain.FieldCustomProperties:
		oldProps, _ := e.OldValue.(domain.CustomProps)
		newProps, _ := e.NewValue.(domain.CustomProps)
		diff := domain.DiffCustom(oldProps, newProps)
		if diff.IsEmpty() {
			return domain.PatchOp{}, false
		}
		return domain.PatchOp{
			Type:   domain.PatchUpdateBiz,
			ID:     e.EntityID,
			Rev:    e.Rev,
			Values: diff.TypedValues(),
		}, true
	}

	op := domain.PatchOp{
		Type: Channel(e.PropertyName),
		ID:   e.EntityID,
		Rev:  e.Rev,
	}
	if e.NewValue == nil {
		op.Unset = []string{e.PropertyName}
	} else {
		op.Set = map[string]any{e.PropertyName: e.NewValue}
	}
	return op, true
}

func encodeRecord(r domain.NodeRecord) []domain.PatchOp {
	switch r.Action {
	case domain.ActionAdd:
		if r.Snapshot == nil {
			return nil
		}
		return []domain.PatchOp{{Type: domain.PatchAdd, ParentID: r.ParentID, PreviousID: r.PreviousID, Entity: r.Snapshot}}
	case domain.ActionMove:
		// An add naming an existing entity relocates it.
		return []domain.PatchOp{{
			Type:       domain.PatchAdd,
			ParentID:   r.ParentID,
			PreviousID: r.PreviousID,
			Entity:     &domain.EntitySnapshot{ID: r.EntityID},
		}}
	case domain.ActionRemove:
		// The revision lets peers ignore a remove that a later re-add overtook.
		return []domain.PatchOp{{Type: domain.PatchRemove, IDs: []string{r.EntityID}, Rev: r.Rev}}
	case domain.ActionReplace:
		ops := []domain.PatchOp{{Type: domain.PatchRemove, IDs: []string{r.ReplacedID}}}
		if r.Snapshot != nil {
			ops = append(ops, domain.PatchOp{Type: domain.PatchAdd, ParentID: r.ParentID, PreviousID: r.PreviousID, Entity: r.Snapshot})
		}
		return ops
	}
	return nil
}

// merge folds next into last when both update the same entity on the same channel.
func merge(last *domain.PatchOp, next domain.PatchOp) bool {
	if last.Type != next.Type || last.ID != next.ID || last.ID == "" {
		return false
	}
	switch {
	case next.Type == domain.PatchUpdateBiz:
		for k, v := range next.Values {
			last.Values[k] = v
		}
	case next.Type.IsUpdate():
		for k, v := range next.Set {
			if last.Set == nil {
				last.Set = map[string]any{}
			}
			last.Set[k] = v
			last.Unset = without(last.Unset, k)
		}
		for _, k := range next.Unset {
			delete(last.Set, k)
			if !contains(last.Unset, k) {
				last.Unset = append(last.Unset, k)
			}
		}
		if len(last.Set) == 0 {
			last.Set = nil
		}
	default:
		return false
	}
	if next.Rev > last.Rev {
		last.Rev = next.Rev
	}
	return true
}

func without(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ReplicationOption configures a ReplicationTransport.
type ReplicationOption func(*ReplicationTransport)

// WithTimeout bounds each publish.
func WithTimeout(d time.Duration) ReplicationOption {
	return func(t *ReplicationTransport) {
		t.timeout = d
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) ReplicationOption {
	return func(t *ReplicationTransport) {
		t.logger = logger
	}
}

// ReplicationTransport is a notification transport that encodes each message
// as a patch envelope and publishes it to a sink.
type ReplicationTransport struct {
	name    string
	sink    ports.EnvelopeSink
	timeout time.Duration
	logger  *slog.Logger
}

// NewReplicationTransport wraps sink. name identifies it in logs and metrics.
func NewReplicationTransport(name string, sink ports.EnvelopeSink, opts ...ReplicationOption) *ReplicationTransport {
	t := &ReplicationTransport{
		name:    name,
		sink:    sink,
		timeout: 5 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements ports.Named.
func (t *ReplicationTransport) Name() string { return t.name }

// Send implements ports.Transport.
func (t *ReplicationTransport) Send(msg domain.Message) error {
	env, ok := Encode(msg)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	t.logger.Debug("publishing envelope", "transport", t.name, "mutation_id", env.MutationID, "ops", len(env.Patches))
	return t.sink.PublishEnvelope(ctx, env)
}
