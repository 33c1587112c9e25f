package vault

import (
	"context"

	"osqr/internal/model"
)

// GetMentorScripts returns the global and project-scoped MentorScripts
// visible for (userID, projectID), creating the global one on first use.
func (v *Vault) GetMentorScripts(ctx context.Context, userID, projectID string) []model.MentorScript {
	if !v.enabled() {
		return nil
	}
	v.procedural.GetOrCreateScript(ctx, userID, "")
	return v.procedural.GetScripts(ctx, userID, projectID)
}

// StoreMentorRule appends a rule to scriptID.
func (v *Vault) StoreMentorRule(ctx context.Context, userID, scriptID string, rule model.MentorRule) (model.MentorScript, error) {
	if !v.enabled() {
		return model.MentorScript{}, nil
	}
	return v.procedural.StoreMentorRule(ctx, userID, scriptID, rule)
}

// GetBriefingScript returns a session's auto-expiring briefing, if any.
func (v *Vault) GetBriefingScript(ctx context.Context, userID, sessionID string) (model.BriefingScript, bool) {
	if !v.enabled() {
		return model.BriefingScript{}, false
	}
	return v.procedural.GetBriefing(ctx, userID, sessionID)
}
