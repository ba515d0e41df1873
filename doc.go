/*
Package scenesync keeps replicas of one mutable CAD scene document consistent.

Every replica holds a full copy of a scene tree of folders, geometry and
metadata entities. Local edits are captured as they happen, batched on a
schedule, and published as patch envelopes; inbound envelopes are replayed
onto the local tree with a per-entity revision gate, so duplicate and stale
deliveries are harmless. Local edits are grouped into transactions that can
be undone and redone; replayed patches never enter the local history.

# Architecture

The document core lives under pkg/:

  - pkg/reactive: named property bags that notify listeners on change.
  - pkg/scene: the entity tree, its intrusive child lists, change records and selection.
  - pkg/history: transactions, rollback and the undo/redo stacks.
  - pkg/notify: coalesces document events into messages for transports.
  - pkg/patch: applies inbound envelopes and encodes outbound ones.
  - pkg/registry, pkg/codec: entity types, snapshots and wire value decoding.

Adapters connect a replica to the outside: an in-process bus and snapshot
store (pkg/adapters/memory), Redis pub/sub, snapshots and locks
(pkg/adapters/redis), HTTP with server-sent events (pkg/adapters/http),
WebSocket (pkg/adapters/websocket) and MCP tools (pkg/adapters/mcp).

# Usage

	bus := memory.NewBus()

	r, err := scenesync.New(
		scenesync.WithSchedule(notify.ModeDebounce, 10),
		scenesync.WithSink("bus", bus),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	cancel, _ := bus.Subscribe(r)
	defer cancel()

	_ = r.Do("add box", func(doc *scene.Document) error {
		box := scene.NewNode(domain.TypeGeometry, "box")
		box.SetName("Box")
		doc.Root().AddChild(box)
		return nil
	})

Concurrency: a Replica serializes every access behind one lock. Transports
are called while that lock is held and must not call back into the same
replica synchronously.
*/
package scenesync
