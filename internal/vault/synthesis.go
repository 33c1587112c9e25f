package vault

import (
	"context"
	"fmt"
	"time"

	"osqr/internal/extract"
	"osqr/internal/model"
	"osqr/internal/queue"
	"osqr/internal/semantic"
	"osqr/internal/vaulterrors"
)

const defaultSynthesisBatch = 10
const orphanRecoveryWindow = 24 * time.Hour
const defaultInactivityTimeout = 30 * time.Minute

// SynthesizeFromConversationByID runs extraction over a conversation's
// full history plus the user's existing memories, writes the accepted
// facts into the semantic store (wiring contradiction/supersession edges
// per §4.8's resolution field), and writes the conversation summary once.
// The owning user is resolved from the conversation index populated by
// StartConversation/LoadConversation — the operation takes only a
// conversation id, so the vault has to remember who owns it.
func (v *Vault) SynthesizeFromConversationByID(ctx context.Context, convID string) (model.ExtractionResult, error) {
	if !v.enabled() {
		return model.ExtractionResult{}, nil
	}
	v.mu.Lock()
	userID, ok := v.convIndex[convID]
	v.mu.Unlock()
	if !ok {
		return model.ExtractionResult{}, vaulterrors.New(vaulterrors.NotFound, "vault.SynthesizeFromConversationByID", fmt.Errorf("conversation %s", convID))
	}
	return v.synthesize(ctx, userID, convID)
}

func (v *Vault) synthesize(ctx context.Context, userID, convID string) (model.ExtractionResult, error) {
	conv, ok := v.episodic.GetConversation(ctx, userID, convID)
	if !ok {
		return model.ExtractionResult{}, vaulterrors.New(vaulterrors.NotFound, "vault.synthesize", fmt.Errorf("conversation %s", convID))
	}

	chat := make([]extract.ChatMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		chat = append(chat, extract.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	existing := v.semantic.Filter(ctx, userID, semantic.Criteria{})

	result := v.extractor.Extract(ctx, chat, existing)
	newIDs := make([]string, len(result.Facts))

	for i, fact := range result.Facts {
		emb, err := v.embedder.Embed(ctx, fact.Content)
		if err != nil {
			continue // upstream_failure on one fact degrades that fact, not the batch
		}
		mem, err := v.semantic.Create(ctx, userID, fact.Content, fact.Category, model.MemorySource{
			Type:       "synthesis",
			SourceID:   convID,
			Timestamp:  v.now(),
			Confidence: fact.Confidence,
		}, emb.Embedding, fact.Confidence)
		if err != nil {
			continue
		}
		newIDs[i] = mem.ID
	}

	for _, c := range result.Contradictions {
		newID := ""
		if c.FactIndex >= 0 && c.FactIndex < len(newIDs) {
			newID = newIDs[c.FactIndex]
		}
		if newID == "" || c.ExistingID == "" {
			continue
		}
		switch c.Resolution {
		case model.ResolutionReplaceWithNew:
			_ = v.semantic.MarkSupersession(ctx, userID, newID, c.ExistingID)
		case model.ResolutionKeepExisting, model.ResolutionKeepBoth:
			_ = v.semantic.MarkContradiction(ctx, userID, newID, c.ExistingID)
		}
	}

	if result.Summary != "" {
		_ = v.episodic.SetSummary(ctx, userID, convID, result.Summary)
	}
	var topics []string
	for _, f := range result.Facts {
		topics = append(topics, f.Topics...)
	}
	if len(topics) > 0 {
		_ = v.episodic.MergeMetadata(ctx, userID, convID, topics, nil, nil, "")
	}

	return result, nil
}

// processSynthesisJob adapts synthesize to queue.Processor.
func (v *Vault) processSynthesisJob(ctx context.Context, job queue.Job) error {
	_, err := v.synthesize(ctx, job.UserID, job.ConversationID)
	return err
}

func (v *Vault) synthesisBatchSize() int {
	if v.schedCfg.SynthesisBatch > 0 {
		return v.schedCfg.SynthesisBatch
	}
	return defaultSynthesisBatch
}

func (v *Vault) runSynthesisBatch(ctx context.Context) {
	v.queue.ProcessAll(ctx, v.processSynthesisJob, v.synthesisBatchSize())
}

// RunProspectiveReflectionForUser proactively enqueues synthesis, at high
// priority, for any of userID's ended conversations that never got a
// summary — the forward-looking counterpart to the scheduler's backward-
// looking orphan sweep (runOrphanSweep), callable on demand (e.g. "reflect
// on what we just talked about" rather than waiting for the next tick).
func (v *Vault) RunProspectiveReflectionForUser(ctx context.Context, userID string) []queue.Job {
	if !v.enabled() {
		return nil
	}
	orphans := v.episodic.OrphanedConversations(ctx, userID, orphanRecoveryWindow)
	jobs := make([]queue.Job, 0, len(orphans))
	for _, conv := range orphans {
		jobs = append(jobs, v.queue.Enqueue(userID, conv.ID, queue.PriorityHigh))
	}
	return jobs
}

// runInactivityTimeout is the scheduler's periodic driver for conversations
// abandoned without an explicit end: any open conversation whose last
// message is older than inactivityTimeout is auto-ended and enqueued for
// synthesis, the same sequence EndConversation runs for an explicit close.
// Unlike runOrphanSweep, which only recovers conversations that already
// have EndedAt set, this catches the ones that never got there.
func (v *Vault) runInactivityTimeout(ctx context.Context) {
	for _, userID := range v.episodic.AllUserIDs() {
		for _, conv := range v.episodic.IdleConversations(ctx, userID, v.inactivityTimeout) {
			if _, err := v.episodic.EndConversation(ctx, userID, conv.ID); err != nil {
				continue
			}
			u := v.userFor(userID)
			u.mu.Lock()
			if u.activeConversationID == conv.ID {
				u.activeConversationID = ""
			}
			u.mu.Unlock()

			job := v.queue.Enqueue(userID, conv.ID, queue.PriorityNormal)
			if v.eventlog != nil {
				_ = v.eventlog.Append(ctx, userID, queue.Event{Kind: queue.EventEnqueued, Job: job})
			}
			if v.bus != nil {
				_ = v.bus.PublishEvent(ctx, userID, queue.Event{Kind: queue.EventEnqueued, Job: job})
			}
		}
	}
}

// runOrphanSweep is the scheduler's periodic recovery driver: it walks
// every known user and re-enqueues any ended-but-unsummarized
// conversation at low priority, catching jobs lost to a crash between
// EndConversation and the synthesis queue draining them.
func (v *Vault) runOrphanSweep(ctx context.Context) {
	for _, userID := range v.episodic.AllUserIDs() {
		for _, conv := range v.episodic.OrphanedConversations(ctx, userID, orphanRecoveryWindow) {
			job := v.queue.Enqueue(userID, conv.ID, queue.PriorityLow)
			if v.eventlog != nil {
				_ = v.eventlog.Append(ctx, userID, queue.Event{Kind: queue.EventEnqueued, Job: job})
			}
		}
	}
}

// RunRetrospectiveReflection runs the Bayesian utility re-estimate
// (§4.10) for every user with at least one semantic memory. Errors for
// individual users are collected but never stop the rest of the pass.
func (v *Vault) RunRetrospectiveReflection(ctx context.Context) error {
	if !v.enabled() {
		return nil
	}
	if errs := v.updater.UpdateAllUsers(ctx); len(errs) > 0 {
		return vaulterrors.New(vaulterrors.UpstreamFailure, "vault.RunRetrospectiveReflection", errs[0])
	}
	return nil
}
