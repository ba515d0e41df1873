package domain

import "errors"

// ErrNoTransaction is returned when Commit or Rollback is called without an open transaction.
var ErrNoTransaction = errors.New("no transaction in progress")

// ErrTransactionActive is returned when Start is called while a transaction is already recording.
var ErrTransactionActive = errors.New("transaction already in progress")

// ErrUnknownEntityType is returned when a snapshot references a type tag with no registration.
var ErrUnknownEntityType = errors.New("unknown entity type")

// ErrInvalidValue is returned when a wire value cannot be decoded into its declared type.
var ErrInvalidValue = errors.New("invalid value")

// ErrDisposed is returned by services used after Dispose.
var ErrDisposed = errors.New("service disposed")

// ErrDocumentNotFound is returned when a snapshot store has no entry for a document ID.
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidConfig is returned when a component is constructed with an unusable configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrClosed is returned when publishing to or subscribing on a closed bus or connection.
var ErrClosed = errors.New("closed")
