package memory

import (
	"context"
	"testing"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunSnapshotStoreContract(t, NewStore())
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	snap := &domain.EntitySnapshot{
		Type:     domain.TypeFolder,
		ID:       "root",
		Fields:   map[string]any{domain.FieldName: "a"},
		Children: []domain.EntitySnapshot{{Type: domain.TypeFolder, ID: "f"}},
	}
	require.NoError(t, s.Save(ctx, "doc", snap))

	snap.Fields[domain.FieldName] = "mutated"
	snap.Children[0].ID = "mutated"

	loaded, err := s.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Fields[domain.FieldName])
	assert.Equal(t, "f", loaded.Children[0].ID)

	loaded.Fields[domain.FieldName] = "mutated"
	again, err := s.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Fields[domain.FieldName])
}
