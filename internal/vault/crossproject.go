package vault

import (
	"context"

	"osqr/internal/crossproject"
	"osqr/internal/model"
)

// QueryCrossProject answers a cross-project memory query. Gated by
// enableCrossProjectMemory: disabled, it degrades to an empty result per
// the feature-flag fail-open policy rather than erroring.
func (v *Vault) QueryCrossProject(ctx context.Context, q crossproject.Query) (crossproject.Result, error) {
	if !v.enabled() || !v.flags.EnableCrossProjectMemory {
		return crossproject.Result{}, nil
	}
	return v.crossService.QueryCrossProject(ctx, q)
}

// SetMemorySourceContext records where a memory was observed from, for
// later cross-project grouping.
func (v *Vault) SetMemorySourceContext(_ context.Context, userID, memoryID string, sc model.SourceContext) {
	v.crossproject.SetSourceContext(userID, memoryID, sc)
}
