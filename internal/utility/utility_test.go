package utility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"osqr/internal/model"
	"osqr/internal/semantic"
)

type fakeLookup struct {
	counts map[string][2]int // memoryID -> [retrieved, helpful]
}

func (f *fakeLookup) CountsSince(_ context.Context, _, memoryID string, _ time.Time) (int, int) {
	c := f.counts[memoryID]
	return c[0], c[1]
}

func TestUpdateUtilityScoresBayesianBlendWhenRetrieved(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	mem, err := store.Create(ctx, "u1", "content", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)

	lookup := &fakeLookup{counts: map[string][2]int{mem.ID: {10, 9}}}
	u := New(store, lookup)
	require.NoError(t, u.UpdateUtilityScoresEnhanced(ctx, "u1"))

	updated, _ := store.Get(ctx, "u1", mem.ID)
	// bayesian = (9+1)/(10+2) = 0.8333; blended = 0.7*0.5 + 0.3*0.8333 = 0.6
	// plus a small recency boost; should move up from the 0.5 default.
	require.Greater(t, updated.UtilityScore, 0.5)
}

func TestUpdateUtilityScoresRetrievedBeatsUnretrieved(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	retrieved, err := store.Create(ctx, "u1", "retrieved often", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)
	untouched, err := store.Create(ctx, "u1", "never retrieved", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)

	lookup := &fakeLookup{counts: map[string][2]int{retrieved.ID: {10, 9}}}
	u := New(store, lookup)
	require.NoError(t, u.UpdateUtilityScoresEnhanced(ctx, "u1"))

	updatedRetrieved, _ := store.Get(ctx, "u1", retrieved.ID)
	updatedUntouched, _ := store.Get(ctx, "u1", untouched.ID)
	require.Greater(t, updatedRetrieved.UtilityScore, updatedUntouched.UtilityScore)
}

func TestUpdateUtilityScoresNeverGoesBelowMinimum(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	mem, err := store.Create(ctx, "u1", "content", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)
	_, err = store.Update(ctx, "u1", mem.ID, func(m *model.SemanticMemory) { m.UtilityScore = 0.11 })
	require.NoError(t, err)

	lookup := &fakeLookup{counts: map[string][2]int{}}
	u := New(store, lookup)
	u.now = func() time.Time { return time.Now().UTC().AddDate(1, 0, 0) }
	for i := 0; i < 50; i++ {
		require.NoError(t, u.UpdateUtilityScoresEnhanced(ctx, "u1"))
	}
	updated, _ := store.Get(ctx, "u1", mem.ID)
	require.GreaterOrEqual(t, updated.UtilityScore, minimumScore)
}

func TestRecordOutcomeAppliesImmediateDelta(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	mem, err := store.Create(ctx, "u1", "content", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)

	u := New(store, &fakeLookup{})
	require.NoError(t, u.RecordOutcome(ctx, "u1", mem.ID, model.OutcomeHelpful))
	updated, _ := store.Get(ctx, "u1", mem.ID)
	require.InDelta(t, 0.6, updated.UtilityScore, 1e-9)
}

func TestRecordOutcomeClampsAtCeiling(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	mem, err := store.Create(ctx, "u1", "content", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)
	_, err = store.Update(ctx, "u1", mem.ID, func(m *model.SemanticMemory) { m.UtilityScore = 0.99 })
	require.NoError(t, err)

	u := New(store, &fakeLookup{})
	require.NoError(t, u.RecordOutcome(ctx, "u1", mem.ID, model.OutcomeHelpful))
	updated, _ := store.Get(ctx, "u1", mem.ID)
	require.Equal(t, 1.0, updated.UtilityScore)
}

func TestRecordOutcomeUnknownMemoryIsNoop(t *testing.T) {
	store := semantic.New(nil)
	u := New(store, &fakeLookup{})
	require.NoError(t, u.RecordOutcome(context.Background(), "u1", "missing", model.OutcomeHelpful))
}

func TestUpdateAllUsersCoversEveryPartition(t *testing.T) {
	store := semantic.New(nil)
	ctx := context.Background()
	_, err := store.Create(ctx, "u1", "a", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)
	_, err = store.Create(ctx, "u2", "b", model.CategoryProjects, model.MemorySource{}, nil, 0.9)
	require.NoError(t, err)

	u := New(store, &fakeLookup{})
	errs := u.UpdateAllUsers(ctx)
	require.Empty(t, errs)
}
