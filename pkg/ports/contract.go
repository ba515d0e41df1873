package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	docID := "contract-doc-" + time.Now().Format("20060102150405")

	snapshot := func(name string) *domain.EntitySnapshot {
		return &domain.EntitySnapshot{
			Type:   domain.TypeFolder,
			ID:     "root",
			Fields: map[string]any{domain.FieldName: name},
			Children: []domain.EntitySnapshot{
				{Type: domain.TypeGeometry, ID: "n1", Rev: 3, CustomProperties: `{"h":{"t":"number","v":2}}`},
			},
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		err := store.Save(ctx, docID, snapshot("v1"))
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, docID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, "root", loaded.ID)
		assert.Equal(t, "v1", loaded.Fields[domain.FieldName])
		require.Len(t, loaded.Children, 1)
		assert.Equal(t, int64(3), loaded.Children[0].Rev)
		assert.JSONEq(t, `{"h":{"t":"number","v":2}}`, loaded.Children[0].CustomProperties)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, docID, snapshot("v2")))

		loaded, err := store.Load(ctx, docID)
		require.NoError(t, err)
		assert.Equal(t, "v2", loaded.Fields[domain.FieldName])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+docID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, docID, snapshot("v1")))

		err := store.Delete(ctx, docID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, docID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound, "Load after Delete should return ErrDocumentNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := docID + "-1"
		id2 := docID + "-2"
		_ = store.Save(ctx, id1, snapshot("a"))
		_ = store.Save(ctx, id2, snapshot("b"))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		docs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, docs, id1)
		assert.Contains(t, docs, id2)
	})
}
