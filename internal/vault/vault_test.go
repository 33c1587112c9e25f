package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"osqr/internal/crossproject"
	"osqr/internal/embedding"
	"osqr/internal/episodic"
	"osqr/internal/extract"
	"osqr/internal/gdpr/s3export"
	"osqr/internal/model"
	"osqr/internal/objectstore"
	"osqr/internal/privacy"
	"osqr/internal/procedural"
	"osqr/internal/semantic"
	"osqr/internal/vconfig"
)

// fakeCompleter returns a fixed extraction payload regardless of the
// conversation it is handed, so synthesis tests control exactly which
// facts/contradictions come back.
type fakeCompleter struct {
	response string
}

func (f *fakeCompleter) Complete(_ context.Context, _ []extract.ChatMessage) (string, error) {
	return f.response, nil
}

func newTestVault(t *testing.T, completer extract.Completer) *Vault {
	t.Helper()
	return New(Config{
		Flags:        vconfig.FeatureFlags{EnableMemoryVault: true, EnableCrossProjectMemory: true},
		Privacy:      vconfig.PrivacyConfig{DefaultTier: string(privacy.TierContextual), RetentionDays: 90},
		Scheduler:    vconfig.SchedulerConfig{SynthesisBatch: 10},
		Episodic:     episodic.New(),
		Semantic:     semantic.New(nil),
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewService(embedding.NewDeterministic(32, true, 1), "test", 32),
		Completer:    completer,
		Gate:         privacy.New(privacy.NewMemorySink(), privacy.DefaultRules()),
	})
}

// S1: add-and-recall. A message added to the active conversation shows up
// in both the full history and the computed working window.
func TestAddAndRecallMessage(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	conv, err := v.StartConversation(ctx, "u1", "", "proj1")
	require.NoError(t, err)

	saved, res, err := v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "remember I like dark mode"})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.Len(t, res.Window, 1)

	history, err := v.GetFullHistory(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "remember I like dark mode", history[0].Content)
}

// AddMessage without an active conversation refuses rather than implicitly
// opening one.
func TestAddMessageRequiresActiveConversation(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, _, err := v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "hi"})
	require.Error(t, err)
}

// S2: contradiction/supersession. Synthesizing a conversation with a
// detected contradiction wires the resolved edge onto both memories.
func TestSynthesizeWiresSupersession(t *testing.T) {
	ctx := context.Background()

	// The existing memory has to exist (and its id be known) before the
	// fake completer's canned response can reference it.
	seedSemantic := semantic.New(nil)
	existing, err := seedSemantic.Create(ctx, "u1", "lives in Paris", model.CategoryPreferences, model.MemorySource{Type: "api"}, nil, 0.8)
	require.NoError(t, err)

	response := `{"facts":[{"content":"lives in Berlin","category":"preferences","confidence":0.9,"topics":["location"]}],` +
		`"summary":"user relocated","contradictions":[{"existingId":"` + existing.ID + `","factIndex":0,"resolution":"replace_with_new","reason":"relocation"}]}`

	v := New(Config{
		Flags:        vconfig.FeatureFlags{EnableMemoryVault: true},
		Episodic:     episodic.New(),
		Semantic:     seedSemantic,
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewService(embedding.NewDeterministic(32, true, 1), "test", 32),
		Completer:    &fakeCompleter{response: response},
		Gate:         privacy.New(privacy.NewMemorySink(), privacy.DefaultRules()),
	})

	_, err = v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	conv, err := v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	_, _, err = v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "I moved to Berlin"})
	require.NoError(t, err)

	result, err := v.SynthesizeFromConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, result.Facts, 1)

	require.True(t, v.semantic.IsDormant("u1", existing.ID))
}

// S3: window truncation. A window config capping at N messages never
// returns more than N regardless of how much history exists.
func TestWorkingWindowRespectsConfig(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	_, err = v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	v.SetWindowConfig(ctx, "u1", model.WindowConfig{Mode: model.WindowModeMessages, Size: 2})

	for i := 0; i < 5; i++ {
		_, _, err := v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "msg"})
		require.NoError(t, err)
	}

	res, err := v.GetWorkingWindow(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, res.Window, 2)
}

// S4: privacy filter. A plugin request below the tier a memory requires
// gets the memory filtered out, not an error.
func TestProcessPluginDataRequestFiltersByTier(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, err := v.semantic.Create(ctx, "u1", "internal Q3 roadmap details", model.CategoryBusinessInfo, model.MemorySource{Type: "api"}, nil, 0.9)
	require.NoError(t, err)

	resp, err := v.ProcessPluginDataRequest(ctx, "u1", privacy.Request{
		RequesterID:   "plugin-a",
		RequesterType: model.RequesterPlugin,
		Tier:          privacy.TierMinimal,
		Categories:    []model.MemoryCategory{model.CategoryBusinessInfo},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Content)
}

// S5: queue retry / orphan sweep. EndConversation enqueues a synthesis
// job; the orphan sweep finds conversations that never got a summary.
func TestEndConversationEnqueuesAndOrphanSweepRecovers(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `not json at all`})

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	conv, err := v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	_, _, err = v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	_, err = v.EndConversation(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, v.queue.Len())

	// drain the queue: the malformed completion degrades to an empty
	// extraction rather than erroring, so the conversation stays
	// unsummarized and the orphan sweep should pick it up again.
	v.runSynthesisBatch(ctx)
	require.Equal(t, 0, v.queue.Len())

	v.runOrphanSweep(ctx)
	require.Equal(t, 1, v.queue.Len())
	_ = conv
}

// Inactivity timeout: a conversation that never got an explicit
// EndConversation call is still left alone by the sweep while it is
// active, and only auto-ended once it crosses the idle threshold.
func TestInactivityTimeoutLeavesFreshConversationAlone(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	_, err = v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	_, _, err = v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	v.runInactivityTimeout(ctx)
	require.Equal(t, 0, v.queue.Len())

	u := v.userFor("u1")
	u.mu.Lock()
	active := u.activeConversationID
	u.mu.Unlock()
	require.NotEmpty(t, active)
}

// Conversations that went idle past the timeout without an explicit end
// are auto-ended and enqueued for synthesis, just as EndConversation
// would enqueue them, and stop being reported as the user's active one.
func TestInactivityTimeoutAutoEndsIdleConversation(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})
	v.inactivityTimeout = time.Millisecond

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	conv, err := v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)
	_, _, err = v.AddMessage(ctx, "u1", model.Message{Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	v.runInactivityTimeout(ctx)

	require.Equal(t, 1, v.queue.Len())

	got, ok := v.episodic.GetConversation(ctx, "u1", conv.ID)
	require.True(t, ok)
	require.NotNil(t, got.EndedAt)

	u := v.userFor("u1")
	u.mu.Lock()
	active := u.activeConversationID
	u.mu.Unlock()
	require.Empty(t, active)
}

// S6: outcome learning. RecordOutcome marks the most recent pending
// retrieval record for the memory as helpful/not helpful.
func TestRecordOutcomeMarksPendingRetrieval(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	mem, err := v.semantic.Create(ctx, "u1", "prefers concise answers", model.CategoryPreferences, model.MemorySource{Type: "api"}, nil, 0.9)
	require.NoError(t, err)

	v.records.Record(ctx, "u1", model.RetrievalRecord{MemoryID: mem.ID, Timestamp: v.now()})

	err = v.RecordOutcome(ctx, "u1", mem.ID, model.OutcomeHelpful)
	require.NoError(t, err)

	retrieved, helpful := v.records.CountsSince(ctx, "u1", mem.ID, v.now().Add(-time.Hour))
	require.Equal(t, 1, retrieved)
	require.Equal(t, 1, helpful)
}

// Disabled feature flag degrades every gated operation to an empty,
// non-error result rather than failing.
func TestDisabledVaultDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	v := New(Config{
		Flags:        vconfig.FeatureFlags{EnableMemoryVault: false},
		Episodic:     episodic.New(),
		Semantic:     semantic.New(nil),
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewService(embedding.NewDeterministic(32, true, 1), "test", 32),
		Completer:    &fakeCompleter{response: `{}`},
		Gate:         privacy.New(privacy.NewMemorySink(), privacy.DefaultRules()),
	})

	sess, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	require.Empty(t, sess.ID)

	scripts := v.GetMentorScripts(ctx, "u1", "")
	require.Nil(t, scripts)
}

func TestDeleteUserDataRemovesBookkeeping(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`})

	_, err := v.StartSession(ctx, "u1", model.DeviceType("web"))
	require.NoError(t, err)
	conv, err := v.StartConversation(ctx, "u1", "", "")
	require.NoError(t, err)

	require.NoError(t, v.DeleteUserData(ctx, "u1"))

	v.mu.Lock()
	_, known := v.convIndex[conv.ID]
	v.mu.Unlock()
	require.False(t, known)
}

// ExportUserData, when an archiver is configured, writes a durable copy
// of the export to cold storage alongside the in-process response.
func TestExportUserDataArchivesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	v := New(Config{
		Flags:        vconfig.FeatureFlags{EnableMemoryVault: true},
		Privacy:      vconfig.PrivacyConfig{DefaultTier: string(privacy.TierContextual)},
		Episodic:     episodic.New(),
		Semantic:     semantic.New(nil),
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewService(embedding.NewDeterministic(32, true, 1), "test", 32),
		Completer:    &fakeCompleter{response: `{"facts":[],"summary":"","contradictions":[]}`},
		Gate:         privacy.New(privacy.NewMemorySink(), privacy.DefaultRules()),
		Archive:      s3export.New(store, "exports"),
	})

	_, err := v.semantic.Create(ctx, "u1", "likes tea", model.CategoryPreferences, model.MemorySource{Type: "api"}, nil, 0.8)
	require.NoError(t, err)

	export := v.ExportUserData(ctx, "u1")
	require.Equal(t, "u1", export.UserID)

	require.Eventually(t, func() bool {
		res, err := store.List(ctx, objectstore.ListOptions{Prefix: "exports/u1/"})
		return err == nil && len(res.Objects) == 1
	}, time.Second, 5*time.Millisecond)
}
