/*
Package session manages the documents a process hosts.

A Manager opens one replica per document id, seeding it from a snapshot
store, and persists it back on demand or when the document is closed.
Persistence of one document is serialized in-process and, optionally,
across processes through a distributed locker.
*/
package session
