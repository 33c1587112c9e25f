package vault

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"osqr/internal/model"
	"osqr/internal/semantic"
)

// VaultStats summarizes one user's footprint across every tier, for
// operator dashboards and getVaultStats.
type VaultStats struct {
	Sessions       int
	Conversations  int
	Messages       int
	SemanticCount  int
	ProceduralRules int
	QueueDepth     int
}

// GetVaultStats gathers per-tier counts for userID.
func (v *Vault) GetVaultStats(ctx context.Context, userID string) VaultStats {
	sessions, conversations, messages := v.episodic.Stats(ctx, userID)
	memories := v.semantic.Filter(ctx, userID, semantic.Criteria{IncludeDormant: true})
	scripts := v.procedural.AllScripts(ctx, userID)
	rules := 0
	for _, s := range scripts {
		rules += len(s.Rules)
	}
	return VaultStats{
		Sessions:        sessions,
		Conversations:   conversations,
		Messages:        messages,
		SemanticCount:   len(memories),
		ProceduralRules: rules,
		QueueDepth:      v.queue.Len(),
	}
}

// UserExport is the full, un-redacted per-user data set handed back by
// exportUserData, e.g. for a GDPR data-portability request.
type UserExport struct {
	UserID       string
	Sessions     []model.Session
	Conversations []model.Conversation
	Semantic     []model.SemanticMemory
	Procedural   []model.MentorScript
}

// ExportUserData collects every record the vault holds for userID across
// all three tiers, and, when an archiver is configured, writes a durable
// cold-storage copy alongside the in-process response.
func (v *Vault) ExportUserData(ctx context.Context, userID string) UserExport {
	export := UserExport{
		UserID:        userID,
		Sessions:      v.episodic.AllSessions(ctx, userID),
		Conversations: v.episodic.AllConversations(ctx, userID),
		Semantic:      v.semantic.Filter(ctx, userID, semantic.Criteria{IncludeDormant: true}),
		Procedural:    v.procedural.AllScripts(ctx, userID),
	}
	if v.archive != nil {
		data, err := json.Marshal(export)
		if err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("gdpr export marshal failed")
		} else {
			v.archive.ArchiveAsync(ctx, userID, data)
		}
	}
	return export
}

// DeleteUserData erases userID's entire footprint: every tier, the
// bookkeeping entry, and the conversation index, for the GDPR
// right-to-erasure operation. Unlike ClearAllStores, the user's
// bookkeeping entry itself is dropped — a subsequent operation for this
// userID starts from a clean slate, including default privacy settings.
func (v *Vault) DeleteUserData(ctx context.Context, userID string) error {
	if err := v.semantic.DeleteUser(ctx, userID); err != nil {
		return err
	}
	v.episodic.DeleteUser(ctx, userID)
	v.procedural.DeleteUser(ctx, userID)
	v.crossproject.DeleteUser(userID)

	v.mu.Lock()
	delete(v.users, userID)
	for convID, owner := range v.convIndex {
		if owner == userID {
			delete(v.convIndex, convID)
		}
	}
	v.mu.Unlock()
	return nil
}
