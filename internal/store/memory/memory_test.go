package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/model"
)

func TestSaveAndLoadAllScopedToUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m1", UserID: "u1", Content: "a"}))
	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m2", UserID: "u2", Content: "b"}))

	mems, err := s.LoadAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, "m1", mems[0].ID)
}

func TestSaveUpsertsExistingID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m1", UserID: "u1", Content: "a"}))
	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m1", UserID: "u1", Content: "a-updated"}))

	mems, err := s.LoadAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, "a-updated", mems[0].Content)
}

func TestDeleteRemovesOnlyThatMemory(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m1", UserID: "u1"}))
	require.NoError(t, s.Save(ctx, model.SemanticMemory{ID: "m2", UserID: "u1"}))

	require.NoError(t, s.Delete(ctx, "u1", "m1"))
	mems, err := s.LoadAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	require.Equal(t, "m2", mems[0].ID)
}

func TestDeleteMissingIDIsNoop(t *testing.T) {
	s := New()
	require.NoError(t, s.Delete(context.Background(), "u1", "nope"))
}
