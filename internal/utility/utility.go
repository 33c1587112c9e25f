// Package utility implements the Retrospective / Utility Update loop
// (spec §4.10): a Bayesian utility re-estimate blended with the prior
// score via momentum, decay for un-retrieved memories, an additive
// recency boost, and immediate per-outcome deltas. Grounded on the
// teacher's internal/rag/service scoring-refresh pass (periodic batch
// recompute over a store, read-then-BatchUpdateUtility shape), adapted
// from document-relevance scores to memory utility scores.
package utility

import (
	"context"
	"math"
	"time"

	"osqr/internal/model"
	"osqr/internal/semantic"
)

const (
	alpha          = 1.0
	beta           = 1.0
	momentum       = 0.7
	decayRate      = 0.05
	recencyBoost   = 0.1
	recencyCapDays = 7.0
	minimumScore   = 0.1
	windowDays     = 7
)

// RetrievalLookup resolves how many times a memory was retrieved and how
// many of those were marked helpful within the trailing window. The vault
// facade implements this against the retrieval-record sink.
type RetrievalLookup interface {
	CountsSince(ctx context.Context, userID, memoryID string, since time.Time) (retrieved, helpful int)
}

// Updater recomputes utility scores for one user's semantic memories.
type Updater struct {
	store  *semantic.Store
	lookup RetrievalLookup
	now    func() time.Time
}

func New(store *semantic.Store, lookup RetrievalLookup) *Updater {
	return &Updater{store: store, lookup: lookup, now: func() time.Time { return time.Now().UTC() }}
}

// UpdateUtilityScoresEnhanced runs the full §4.10 pass for one user: every
// memory in the 7-day window either gets a Bayesian-blended score (if it
// had retrievals) or a decay (if it did not), then an additive recency
// boost, then a floor/ceiling clamp.
func (u *Updater) UpdateUtilityScoresEnhanced(ctx context.Context, userID string) error {
	now := u.now()
	since := now.AddDate(0, 0, -windowDays)

	memories := u.store.Filter(ctx, userID, semantic.Criteria{IncludeDormant: true})
	updates := make([]semantic.UtilityUpdate, 0, len(memories))

	for _, m := range memories {
		retrieved, helpful := u.lookup.CountsSince(ctx, userID, m.ID, since)

		var next float64
		if retrieved > 0 {
			bayesian := (float64(helpful) + alpha) / (float64(retrieved) + alpha + beta)
			next = momentum*m.UtilityScore + (1-momentum)*bayesian
		} else {
			next = m.UtilityScore * (1 - decayRate)
		}

		ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
		if ageDays > recencyCapDays {
			ageDays = recencyCapDays
		}
		if ageDays < 0 {
			ageDays = 0
		}
		next += recencyBoost * math.Exp(-ageDays/recencyCapDays)

		next = clamp(next, minimumScore, 1)
		updates = append(updates, semantic.UtilityUpdate{ID: m.ID, Score: next})
	}

	return u.store.BatchUpdateUtility(ctx, userID, updates)
}

// UpdateAllUsers runs UpdateUtilityScoresEnhanced for every known partition.
// Individual user failures are collected but do not stop the rest.
func (u *Updater) UpdateAllUsers(ctx context.Context) []error {
	var errs []error
	for _, userID := range u.store.AllUserIDs() {
		if err := u.UpdateUtilityScoresEnhanced(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

var outcomeDeltas = map[model.Outcome]float64{
	model.OutcomeUsed:       0.02,
	model.OutcomeHelpful:    0.10,
	model.OutcomeNotHelpful: -0.05,
	model.OutcomeIgnored:    -0.02,
}

// RecordOutcome applies the immediate delta for outcome to memoryID's
// utility score, clamped to [minimumScore, 1]. Unknown outcomes are a
// no-op (delta 0).
func (u *Updater) RecordOutcome(ctx context.Context, userID, memoryID string, outcome model.Outcome) error {
	m, ok := u.store.Get(ctx, userID, memoryID)
	if !ok {
		return nil
	}
	delta := outcomeDeltas[outcome]
	next := clamp(m.UtilityScore+delta, minimumScore, 1)
	return u.store.BatchUpdateUtility(ctx, userID, []semantic.UtilityUpdate{{ID: memoryID, Score: next}})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
