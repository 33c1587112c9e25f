package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"osqr/internal/embedding"
	"osqr/internal/model"
	"osqr/internal/semantic"
)

func newFixture() (*Pipeline, *semantic.Store) {
	store := semantic.New(nil)
	embedder := embedding.NewService(embedding.NewDeterministic(16, true, 42), "mock", 16)
	return New(store, embedder, nil), store
}

func TestRetrieveContextEmptyQuery(t *testing.T) {
	p, _ := newFixture()
	resp, err := p.RetrieveContext(context.Background(), "u1", "", DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, resp.Memories)
}

func TestRetrieveContextDropsBelowMinRelevance(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	emb, err := p.Embedder.Embed(ctx, "completely unrelated filler content")
	require.NoError(t, err)
	_, err = store.Create(ctx, "u1", "some unrelated note", model.CategoryProjects, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MinRelevance = 1.1 // impossible to reach, forces a drop
	resp, err := p.RetrieveContext(ctx, "u1", "what is my favorite language", opts)
	require.NoError(t, err)
	require.Empty(t, resp.Memories)
}

func TestRetrieveContextReturnsHighSimilarityMatch(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	text := "the user prefers dark mode in every application"
	emb, err := p.Embedder.Embed(ctx, text)
	require.NoError(t, err)
	mem, err := store.Create(ctx, "u1", text, model.CategoryPreferences, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MinRelevance = 0
	resp, err := p.RetrieveContext(ctx, "u1", text, opts)
	require.NoError(t, err)
	require.Len(t, resp.Memories, 1)
	require.Equal(t, mem.ID, resp.Memories[0].Memory.ID)
}

func TestRetrieveContextRecordsAccess(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	text := "the user's timezone is America/Chicago"
	emb, _ := p.Embedder.Embed(ctx, text)
	mem, _ := store.Create(ctx, "u1", text, model.CategoryPreferences, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)

	opts := DefaultOptions()
	opts.MinRelevance = 0
	_, err := p.RetrieveContext(ctx, "u1", text, opts)
	require.NoError(t, err)

	updated, ok := store.Get(ctx, "u1", mem.ID)
	require.True(t, ok)
	require.Equal(t, int64(1), updated.AccessCount)
}

func TestRetrieveContextRespectsTokenBudget(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		text := "the user likes topic " + string(rune('a'+i)) + " very much indeed and writes about it often"
		emb, _ := p.Embedder.Embed(ctx, text)
		_, err := store.Create(ctx, "u1", text, model.CategoryPreferences, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
		require.NoError(t, err)
	}

	opts := DefaultOptions()
	opts.MinRelevance = 0
	opts.MaxTokens = 10
	resp, err := p.RetrieveContext(ctx, "u1", "topic preferences", opts)
	require.NoError(t, err)
	require.LessOrEqual(t, resp.TokensUsed, opts.MaxTokens)
}

func TestRetrieveContextKeepsContradictionEdges(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	text := "the user's favorite color is blue"
	emb, _ := p.Embedder.Embed(ctx, text)
	a, _ := store.Create(ctx, "u1", text, model.CategoryPreferences, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
	b, _ := store.Create(ctx, "u1", "the user's favorite color is red", model.CategoryPreferences, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
	require.NoError(t, store.MarkContradiction(ctx, "u1", a.ID, b.ID))

	opts := DefaultOptions()
	opts.MinRelevance = 0
	_, err := p.RetrieveContext(ctx, "u1", text, opts)
	require.NoError(t, err)

	updatedA, _ := store.Get(ctx, "u1", a.ID)
	require.NotEmpty(t, updatedA.Metadata.Contradicts)
}

func TestSearchMemoriesBoostsSubstringMatch(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()
	text := "kubernetes deployment notes for staging cluster"
	emb, _ := p.Embedder.Embed(ctx, text)
	_, err := store.Create(ctx, "u1", text, model.CategoryProjects, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.9)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MinRelevance = 0
	resp, err := p.SearchMemories(ctx, "u1", "kubernetes", opts)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Memories)
}

func TestSearchMemoriesRescuesLowSimilaritySubstringMatchBeforeFilter(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()

	query := "xyzcode42"
	content := "an unrelated note about gardening that happens to mention xyzcode42 once"

	qEmb, err := p.Embedder.Embed(ctx, query)
	require.NoError(t, err)
	cEmb, err := p.Embedder.Embed(ctx, content)
	require.NoError(t, err)

	mem, err := store.Create(ctx, "u1", content, model.CategoryProjects, model.MemorySource{Type: "user_stated"}, cEmb.Embedding, 0.9)
	require.NoError(t, err)

	opts := DefaultOptions()
	now := p.Now()
	rawScore := p.score(mem, qEmb.Embedding, opts, now)
	boostedScore := model.Clamp01(rawScore * 1.2)
	require.Less(t, rawScore, boostedScore, "fixture needs a nonzero bonus to be meaningful")
	opts.MinRelevance = (rawScore + boostedScore) / 2

	plainResp, err := p.RetrieveContext(ctx, "u1", query, opts)
	require.NoError(t, err)
	for _, m := range plainResp.Memories {
		require.NotEqual(t, mem.ID, m.Memory.ID, "without the text bonus this low-similarity memory should not clear MinRelevance")
	}

	resp, err := p.SearchMemories(ctx, "u1", query, opts)
	require.NoError(t, err)
	var found bool
	for _, m := range resp.Memories {
		if m.Memory.ID == mem.ID {
			found = true
		}
	}
	require.True(t, found, "substring match should clear MinRelevance once the bonus applies before filtering, not after")
}

func TestSearchMemoriesMergesTextMatchBelowGatherConfidenceFloor(t *testing.T) {
	p, store := newFixture()
	ctx := context.Background()

	content := "low confidence jotting that mentions qrcodealpha in passing"
	emb, err := p.Embedder.Embed(ctx, content)
	require.NoError(t, err)
	mem, err := store.Create(ctx, "u1", content, model.CategoryProjects, model.MemorySource{Type: "user_stated"}, emb.Embedding, 0.1)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MinRelevance = 0

	gathered := p.gatherCandidates(ctx, "u1", emb.Embedding, opts)
	for _, c := range gathered {
		require.NotEqual(t, mem.ID, c.ID, "fixture needs this memory below gatherCandidates' confidence floor")
	}

	resp, err := p.SearchMemories(ctx, "u1", "qrcodealpha", opts)
	require.NoError(t, err)
	var found bool
	for _, m := range resp.Memories {
		if m.Memory.ID == mem.ID {
			found = true
		}
	}
	require.True(t, found, "a literal substring match should be merged in even when gatherCandidates' confidence floor excludes it")
}

func TestBudgetSelectSkipsAndContinuesForSmaller(t *testing.T) {
	now := time.Now().UTC()
	big := scored{memory: model.SemanticMemory{Content: "this is a much longer piece of content that costs more tokens than the budget allows", CreatedAt: now}, score: 0.9}
	small := scored{memory: model.SemanticMemory{Content: "short", CreatedAt: now}, score: 0.8}
	out := budgetSelect([]scored{big, small}, 3)
	require.Len(t, out, 1)
	require.Equal(t, "short", out[0].memory.Content)
}

func TestDiversifyPrefersDissimilarSecondPick(t *testing.T) {
	a := scored{memory: model.SemanticMemory{ID: "a", Embedding: []float32{1, 0}}, score: 0.9}
	dup := scored{memory: model.SemanticMemory{ID: "dup", Embedding: []float32{1, 0}}, score: 0.89}
	distinct := scored{memory: model.SemanticMemory{ID: "distinct", Embedding: []float32{0, 1}}, score: 0.5}

	out := diversify([]scored{a, dup, distinct}, 0.5)
	require.Len(t, out, 3)
	require.Equal(t, "a", out[0].memory.ID)
	require.Equal(t, "distinct", out[1].memory.ID)
}
