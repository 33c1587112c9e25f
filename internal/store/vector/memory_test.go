package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimilaritySearchRanksByCosine(t *testing.T) {
	idx := NewInMemoryIndex(3)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "close", []float32{1, 0, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "far", []float32{0, 1, 0}, nil))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0.01, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "close", results[0].ID)
}

func TestSimilaritySearchRespectsMetadataFilter(t *testing.T) {
	idx := NewInMemoryIndex(3)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"category": "preferences"}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{1, 0, 0}, map[string]string{"category": "projects"}))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, map[string]string{"category": "projects"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	idx := NewInMemoryIndex(3)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0}, nil))
	require.NoError(t, idx.Delete(ctx, "a"))

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSimilaritySearchLimitsToK(t *testing.T) {
	idx := NewInMemoryIndex(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Upsert(ctx, id, []float32{1, 0}, nil))
	}
	results, err := idx.SimilaritySearch(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestDimensionReturnsConfiguredSize(t *testing.T) {
	idx := NewInMemoryIndex(42)
	require.Equal(t, 42, idx.Dimension())
}
