package vault

import (
	"context"

	"osqr/internal/privacy"
	"osqr/internal/semantic"
)

// ProcessPluginDataRequest is the single entry point every plugin-facing
// surface (cmd/vault-mcp included) calls through: it resolves the
// requester's effective tier, gathers the candidate memories, and
// delegates to the privacy gate for the filter/redact/audit pass.
func (v *Vault) ProcessPluginDataRequest(ctx context.Context, userID string, req privacy.Request) (privacy.Response, error) {
	if !v.enabled() {
		return privacy.Response{}, nil
	}
	if req.RequireWrite {
		if err := v.gate.CheckWrite(req.Tier); err != nil {
			return privacy.Response{}, err
		}
	}

	candidates := v.semantic.Filter(ctx, userID, semantic.Criteria{Categories: req.Categories})
	return v.gate.ProcessPluginRequest(ctx, req, userID, candidates), nil
}

// GetPrivacySettings returns userID's current privacy configuration.
func (v *Vault) GetPrivacySettings(_ context.Context, userID string) PrivacySettings {
	u := v.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.privacy
}

// UpdatePrivacySettings replaces userID's privacy configuration wholesale.
func (v *Vault) UpdatePrivacySettings(_ context.Context, userID string, settings PrivacySettings) {
	u := v.userFor(userID)
	u.mu.Lock()
	u.privacy = settings
	u.mu.Unlock()
}
