/*
Package ports defines the driven ports (interfaces) of the replication core.

These interfaces decouple the document, notifier and patch engine from the
outside world, so that Redis, HTTP, WebSocket or in-memory adapters can be
plugged in without the core knowing about them.

# Key Interfaces

  - Transport: accepts a flushed notification message.
  - EnvelopeSink: accepts an outbound patch envelope.
  - EnvelopeHandler: receives inbound patch envelopes (the patch source contract).
  - SnapshotStore: persists document snapshots for late-joining replicas.
  - DistributedLocker: serializes snapshot writes across processes.
  - Visual, ShapeFactory: the rendering layer and geometry kernel, consumed opaquely.
*/
package ports
