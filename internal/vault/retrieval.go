package vault

import (
	"context"

	"osqr/internal/model"
	"osqr/internal/retrieval"
)

// RetrieveContextForUser runs the full embed/score/diversify/budget
// pipeline over userID's semantic memories.
func (v *Vault) RetrieveContextForUser(ctx context.Context, userID, query string, opts retrieval.Options) (retrieval.Response, error) {
	if !v.enabled() {
		return retrieval.Response{Memories: []model.RetrievedMemory{}}, nil
	}
	return v.pipeline.RetrieveContext(ctx, userID, query, opts)
}

// SearchUserMemories is the hybrid text+semantic variant, for explicit
// user-initiated searches rather than background context assembly.
func (v *Vault) SearchUserMemories(ctx context.Context, userID, query string, opts retrieval.Options) (retrieval.Response, error) {
	if !v.enabled() {
		return retrieval.Response{Memories: []model.RetrievedMemory{}}, nil
	}
	return v.pipeline.SearchMemories(ctx, userID, query, opts)
}

// RecordOutcome applies outcome's immediate utility delta to memoryID and
// marks the most recent pending retrieval record for it, so the next
// retrospective pass counts it toward the Bayesian re-estimate.
func (v *Vault) RecordOutcome(ctx context.Context, userID, memoryID string, outcome model.Outcome) error {
	if !v.enabled() {
		return nil
	}
	v.records.markOutcome(userID, memoryID, outcome == model.OutcomeHelpful || outcome == model.OutcomeUsed)
	return v.updater.RecordOutcome(ctx, userID, memoryID, outcome)
}
