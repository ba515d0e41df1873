package ports

import (
	"context"

	"github.com/aretw0/scenesync/pkg/domain"
)

// SnapshotStore persists full document snapshots so a new replica can catch
// up before it starts applying patches.
type SnapshotStore interface {
	// Save persists the snapshot for a document.
	Save(ctx context.Context, docID string, snap *domain.EntitySnapshot) error

	// Load retrieves the snapshot for a document.
	// Returns domain.ErrDocumentNotFound if the document does not exist.
	Load(ctx context.Context, docID string) (*domain.EntitySnapshot, error)

	// Delete removes the snapshot for a document.
	Delete(ctx context.Context, docID string) error

	// List returns the ids of stored documents.
	List(ctx context.Context) ([]string, error)
}
