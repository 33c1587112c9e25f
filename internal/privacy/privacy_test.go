package privacy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/model"
)

func TestResolveTierComponentAlwaysContextual(t *testing.T) {
	require.Equal(t, TierContextual, ResolveTier(model.RequesterComponent, TierNone))
}

func TestResolveTierUserAlwaysFull(t *testing.T) {
	require.Equal(t, TierFull, ResolveTier(model.RequesterUser, TierNone))
}

func TestResolveTierPluginUsesConfigured(t *testing.T) {
	require.Equal(t, TierMinimal, ResolveTier(model.RequesterPlugin, TierMinimal))
}

func TestPersonalInfoNeverAllowedAtAnyTier(t *testing.T) {
	for _, tier := range []Tier{TierNone, TierMinimal, TierContextual, TierFull} {
		require.False(t, AllowedCategories(tier)[model.CategoryPersonalInfo])
	}
}

func TestCheckWriteRequiresFullTier(t *testing.T) {
	g := New(NewMemorySink(), nil)
	require.NoError(t, g.CheckWrite(TierFull))
	require.ErrorIs(t, g.CheckWrite(TierContextual), ErrWriteRequiresFullTier)
}

func TestProcessPluginRequestExcludesPersonalInfo(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{
		{Category: model.CategoryPersonalInfo, Content: "SSN is 123-45-6789", Confidence: 0.9},
		{Category: model.CategoryPreferences, Content: "likes dark mode", Confidence: 0.8},
	}
	resp := g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierFull}, "u1", memories)
	require.NotContains(t, resp.Content, "123-45-6789")
	require.Contains(t, resp.Content, "dark mode")
}

func TestProcessPluginRequestFiltersByTier(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{
		{Category: model.CategoryDecisions, Content: "decided to rewrite the backend", Confidence: 0.7},
		{Category: model.CategoryPreferences, Content: "likes dark mode", Confidence: 0.8},
	}
	resp := g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierMinimal}, "u1", memories)
	require.NotContains(t, resp.Content, "rewrite the backend")
	require.Contains(t, resp.Content, "dark mode")
}

func TestProcessPluginRequestLogsAccess(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{{Category: model.CategoryPreferences, Content: "likes dark mode", Confidence: 0.8}}
	g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierMinimal}, "u1", memories)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "u1", entries[0].UserID)
	require.Equal(t, "p1", entries[0].RequesterID)
}

func TestRedactEmailHashesMatch(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{{Category: model.CategoryPreferences, Content: "contact me at someone@example.com please", Confidence: 0.8}}
	resp := g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierFull}, "u1", memories)
	require.NotContains(t, resp.Content, "someone@example.com")
	require.Contains(t, resp.Content, "[REDACTED:")
}

func TestRedactGeneralizeFinancial(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{{Category: model.CategoryPreferences, Content: "goal is $>1M in savings", Confidence: 0.8}}
	resp := g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierFull}, "u1", memories)
	require.Contains(t, resp.Content, "[substantial financial goals]")
}

func TestRedactGeneralizePlainDollarFigure(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{
		{Category: model.CategoryPersonalInfo, Content: "SSN 123-45-6789", Confidence: 0.9},
		{Category: model.CategoryBusinessInfo, Content: "Revenue $10,000,000", Confidence: 0.9},
		{Category: model.CategoryPreferences, Content: "likes dark mode", Confidence: 0.8},
	}
	resp := g.ProcessPluginRequest(context.Background(), Request{
		RequesterID:   "p1",
		RequesterType: model.RequesterPlugin,
		Categories:    []model.MemoryCategory{model.CategoryPersonalInfo, model.CategoryBusinessInfo, model.CategoryPreferences},
		Tier:          TierContextual,
	}, "u1", memories)

	require.ElementsMatch(t, []model.MemoryCategory{model.CategoryBusinessInfo, model.CategoryPreferences}, resp.Categories)
	require.NotContains(t, resp.Content, "123-45-6789")
	require.NotContains(t, resp.Content, "$10,000,000")
	require.Contains(t, resp.Content, "[substantial financial goals]")
}

func TestCleanupCollapsesWhitespaceAndEmptyBrackets(t *testing.T) {
	require.Equal(t, "hello world.", cleanup("hello   []  world ."))
}

func TestProcessPluginRequestMeanConfidence(t *testing.T) {
	sink := NewMemorySink()
	g := New(sink, nil)
	memories := []model.SemanticMemory{
		{Category: model.CategoryPreferences, Content: "a", Confidence: 0.6},
		{Category: model.CategoryPreferences, Content: "b", Confidence: 0.8},
	}
	resp := g.ProcessPluginRequest(context.Background(), Request{RequesterID: "p1", RequesterType: model.RequesterPlugin, Tier: TierFull}, "u1", memories)
	require.InDelta(t, 0.7, resp.Confidence, 1e-9)
}
