package crossproject

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/embedding"
	"osqr/internal/model"
	"osqr/internal/retrieval"
	"osqr/internal/semantic"
)

func newFixture() (*Service, *Overlay, *semantic.Store, *embedding.Service) {
	store := semantic.New(nil)
	embedder := embedding.NewService(embedding.NewDeterministic(16, true, 7), "mock", 16)
	pipeline := retrieval.New(store, embedder, nil)
	overlay := New()
	return NewService(overlay, pipeline), overlay, store, embedder
}

func TestQueryCrossProjectGroupsByProject(t *testing.T) {
	svc, overlay, store, embedder := newFixture()
	ctx := context.Background()

	text := "deciding on the deployment strategy for the new service"
	emb, err := embedder.Embed(ctx, text)
	require.NoError(t, err)
	mem, err := store.Create(ctx, "u1", text, model.CategoryProjects, model.MemorySource{}, emb.Embedding, 0.9)
	require.NoError(t, err)
	overlay.SetSourceContext("u1", mem.ID, model.SourceContext{ProjectID: "proj-a"})

	result, err := svc.QueryCrossProject(ctx, Query{Text: text, UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	require.Equal(t, "proj-a", result.Groups[0].ProjectID)
}

func TestQueryCrossProjectFiltersToRequestedProjects(t *testing.T) {
	svc, overlay, store, embedder := newFixture()
	ctx := context.Background()

	for _, p := range []string{"proj-a", "proj-b"} {
		text := "note about " + p
		emb, _ := embedder.Embed(ctx, text)
		mem, err := store.Create(ctx, "u1", text, model.CategoryProjects, model.MemorySource{}, emb.Embedding, 0.9)
		require.NoError(t, err)
		overlay.SetSourceContext("u1", mem.ID, model.SourceContext{ProjectID: p})
	}

	result, err := svc.QueryCrossProject(ctx, Query{Text: "note", UserID: "u1", ProjectIDs: []string{"proj-a"}})
	require.NoError(t, err)
	for _, g := range result.Groups {
		require.Equal(t, "proj-a", g.ProjectID)
	}
}

func TestMemoriesWithoutSourceContextAreExcluded(t *testing.T) {
	svc, _, store, embedder := newFixture()
	ctx := context.Background()
	text := "orphaned note with no project context"
	emb, _ := embedder.Embed(ctx, text)
	_, err := store.Create(ctx, "u1", text, model.CategoryProjects, model.MemorySource{}, emb.Embedding, 0.9)
	require.NoError(t, err)

	result, err := svc.QueryCrossProject(ctx, Query{Text: text, UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, result.Groups)
}

func TestCommonThemesRequiresTopicInEveryGroup(t *testing.T) {
	groups := []ProjectGroup{
		{ProjectID: "a", Memories: []model.RetrievedMemory{{Memory: model.SemanticMemory{Metadata: model.MemoryMetadata{Topics: []string{"infra", "billing"}}}}}},
		{ProjectID: "b", Memories: []model.RetrievedMemory{{Memory: model.SemanticMemory{Metadata: model.MemoryMetadata{Topics: []string{"infra"}}}}}},
	}
	themes := commonThemes(groups)
	require.Equal(t, []string{"infra"}, themes)
}

func TestDetectContradictionsFlagsOpposingKeywordsWithSharedTopic(t *testing.T) {
	a := model.RetrievedMemory{Memory: model.SemanticMemory{
		ID: "a", Content: "I always work from the office", Embedding: []float32{1, 0, 0},
		Metadata: model.MemoryMetadata{Topics: []string{"work-location"}},
	}}
	b := model.RetrievedMemory{Memory: model.SemanticMemory{
		ID: "b", Content: "I never work from the office", Embedding: []float32{1, 0, 0},
		Metadata: model.MemoryMetadata{Topics: []string{"work-location"}},
	}}
	detections := detectContradictions([]model.RetrievedMemory{a, b})
	require.Len(t, detections, 1)
	require.Equal(t, "work-location", detections[0].Topic)
}

func TestDetectContradictionsRequiresSimilarityAboveThreshold(t *testing.T) {
	a := model.RetrievedMemory{Memory: model.SemanticMemory{
		ID: "a", Content: "I always work from the office", Embedding: []float32{1, 0, 0},
		Metadata: model.MemoryMetadata{Topics: []string{"work-location"}},
	}}
	b := model.RetrievedMemory{Memory: model.SemanticMemory{
		ID: "b", Content: "I never work from the office", Embedding: []float32{0, 1, 0},
		Metadata: model.MemoryMetadata{Topics: []string{"work-location"}},
	}}
	detections := detectContradictions([]model.RetrievedMemory{a, b})
	require.Empty(t, detections)
}

func TestCrossReferenceRoundTrip(t *testing.T) {
	overlay := New()
	ref := model.CrossReference{TargetMemoryID: "m2", RelationshipType: model.RelationSupports, Strength: 0.8}
	overlay.AddCrossReference("u1", "m1", ref)
	refs := overlay.CrossReferences("u1", "m1")
	require.Len(t, refs, 1)
	require.Equal(t, "m2", refs[0].TargetMemoryID)
}
