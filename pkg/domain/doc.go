/*
Package domain contains the plain data vocabulary shared by every scenesync component.

Nothing in this package holds a reference to a live entity: every type here is a
JSON-serializable value that can cross a transport boundary. Live entities, the
scene-graph list and the document live in package scene.

# Key Types

  - Value: closed variant for dynamic (business) properties: Number, String, Bool,
    Vector3, Plane and Matrix4, each tagged with a ValueType.
  - Message: the notification vocabulary (propertyChanged, selectionChanged,
    nodeChanged, batch) produced by the notification service.
  - PatchEnvelope / PatchOp: the replication vocabulary consumed by the patch
    application engine (add, remove, update*, updateBiz, batch).
  - EntitySnapshot: the wire form of an entity subtree carried by add operations.
  - Hooks: lifecycle callbacks used for observability.
*/
package domain
