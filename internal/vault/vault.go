// Package vault composes every tier (episodic, semantic, procedural,
// cross-project), the working-window engine, the retrieval and synthesis
// pipelines, the Bayesian utility-update loop, the privacy gate, and the
// scheduler into the per-user memory vault facade. It is process-wide, not
// one object per user: per spec §9's "singletons with lifecycle" note, a
// service object owned by a registry with explicit init/shutdown is the
// right shape, not a literal Vault-per-user allocation. Grounded on the
// teacher's service-assembly style (internal/rag/service's functional-
// options construction, cmd/agentd's composition root).
package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"osqr/internal/crossproject"
	"osqr/internal/crypto"
	"osqr/internal/embedding"
	"osqr/internal/episodic"
	"osqr/internal/extract"
	"osqr/internal/gdpr/s3export"
	"osqr/internal/model"
	"osqr/internal/privacy"
	"osqr/internal/procedural"
	"osqr/internal/queue"
	"osqr/internal/queue/bus"
	"osqr/internal/queue/eventlog"
	"osqr/internal/retrieval"
	"osqr/internal/scheduler"
	"osqr/internal/semantic"
	"osqr/internal/utility"
	"osqr/internal/vaulterrors"
	"osqr/internal/vconfig"
)

// userState is the vault's per-user bookkeeping: which session and
// conversation are currently active, the user's window/privacy
// configuration, and when the user was first seen. The episodic/semantic/
// procedural stores are correctly user-scoped-explicit in their own APIs;
// this is the layer that remembers "which conversation" so operations
// named without an explicit id (addMessage, getWorkingWindow) still work.
type userState struct {
	mu                    sync.Mutex
	activeSessionID       string
	activeConversationID  string
	windowConfig          model.WindowConfig
	privacy               PrivacySettings
	createdAt             time.Time
}

// Config wires every collaborator the vault composes. Bus and EventLog
// tolerate a nil value (both degrade to no-ops); everything else must be
// supplied by the composition root.
type Config struct {
	Flags     vconfig.FeatureFlags
	Privacy   vconfig.PrivacyConfig
	Scheduler vconfig.SchedulerConfig

	Episodic     *episodic.Store
	Semantic     *semantic.Store
	Procedural   *procedural.Store
	CrossProject *crossproject.Overlay
	Embedder     *embedding.Service
	Completer    extract.Completer
	Gate         *privacy.Gate
	Crypto       *crypto.Wrapper
	Bus          *bus.Bus
	EventLog     *eventlog.Producer
	Archive      *s3export.Archiver
}

// Vault is the composition root for every per-user operation. All fields
// are safe for concurrent use by multiple goroutines.
type Vault struct {
	flags vconfig.FeatureFlags

	episodic     *episodic.Store
	semantic     *semantic.Store
	procedural   *procedural.Store
	crossproject *crossproject.Overlay
	crossService *crossproject.Service
	embedder     *embedding.Service
	extractor    *extract.Extractor
	pipeline     *retrieval.Pipeline
	updater      *utility.Updater
	gate         *privacy.Gate
	crypto       *crypto.Wrapper
	queue        *queue.Queue
	bus          *bus.Bus
	eventlog     *eventlog.Producer
	scheduler    *scheduler.Scheduler
	records      *recordStore
	archive      *s3export.Archiver

	privacyCfg        vconfig.PrivacyConfig
	schedCfg          vconfig.SchedulerConfig
	inactivityTimeout time.Duration

	mu        sync.Mutex
	users     map[string]*userState
	convIndex map[string]string // conversationID -> userID

	now func() time.Time
}

// New assembles a Vault from cfg. The queue's processor (synthesis jobs)
// and the scheduler's four drivers are wired internally against v's own
// methods, so the caller only supplies the lower-tier collaborators.
func New(cfg Config) *Vault {
	records := newRecordStore()
	pipeline := retrieval.New(cfg.Semantic, cfg.Embedder, records)
	v := &Vault{
		flags:             cfg.Flags,
		episodic:          cfg.Episodic,
		semantic:          cfg.Semantic,
		procedural:        cfg.Procedural,
		crossproject:      cfg.CrossProject,
		crossService:      crossproject.NewService(cfg.CrossProject, pipeline),
		embedder:          cfg.Embedder,
		extractor:         extract.New(cfg.Completer),
		pipeline:          pipeline,
		updater:           utility.New(cfg.Semantic, records),
		gate:              cfg.Gate,
		crypto:            cfg.Crypto,
		queue:             queue.New(),
		bus:               cfg.Bus,
		eventlog:          cfg.EventLog,
		records:           records,
		archive:           cfg.Archive,
		privacyCfg:        cfg.Privacy,
		schedCfg:          cfg.Scheduler,
		inactivityTimeout: defaultInactivityTimeout,
		users:             make(map[string]*userState),
		convIndex:         make(map[string]string),
		now:               func() time.Time { return time.Now().UTC() },
	}
	v.scheduler = scheduler.New(scheduler.Config{
		SynthesisInterval:    cfg.Scheduler.SynthesisInterval,
		UtilityInterval:      cfg.Scheduler.UtilityInterval,
		OrphanInterval:       cfg.Scheduler.OrphanInterval,
		InactivityInterval:   cfg.Scheduler.InactivityInterval,
		RunSynthesisBatch:    v.runSynthesisBatch,
		RunUtilityUpdate:     func(ctx context.Context) { _ = v.RunRetrospectiveReflection(ctx) },
		RunOrphanSweep:       v.runOrphanSweep,
		RunInactivityTimeout: v.runInactivityTimeout,
	})
	return v
}

// InitializeVault registers userID with the vault if it has not been seen
// before. Idempotent: calling it again is a no-op. Corresponds to the
// initializeVault/getVault pairing in the Vault lifecycle operations —
// there is one process-wide Vault, so "initializing" a user just means
// allocating its bookkeeping entry.
func (v *Vault) InitializeVault(_ context.Context, userID string) error {
	if userID == "" {
		return vaulterrors.New(vaulterrors.InvalidArgument, "vault.InitializeVault", fmt.Errorf("userID required"))
	}
	v.userFor(userID)
	return nil
}

func (v *Vault) userFor(userID string) *userState {
	v.mu.Lock()
	u, ok := v.users[userID]
	if !ok {
		u = &userState{
			windowConfig: model.DefaultWindowConfig(),
			privacy:      defaultPrivacySettings(v.privacyCfg),
			createdAt:    v.now(),
		}
		v.users[userID] = u
	}
	v.mu.Unlock()
	return u
}

// ClearAllStores wipes every tier's data for userID without removing the
// user's bookkeeping entry (window/privacy config survives), for test and
// development resets. deleteUserData (admin.go) is the GDPR-grade sibling
// that also drops the bookkeeping entry; neither writes an audit record.
func (v *Vault) ClearAllStores(ctx context.Context, userID string) error {
	if userID == "" {
		return vaulterrors.New(vaulterrors.InvalidArgument, "vault.ClearAllStores", fmt.Errorf("userID required"))
	}
	if err := v.semantic.DeleteUser(ctx, userID); err != nil {
		return err
	}
	v.episodic.DeleteUser(ctx, userID)
	v.procedural.DeleteUser(ctx, userID)
	v.crossproject.DeleteUser(userID)

	u := v.userFor(userID)
	u.mu.Lock()
	u.activeSessionID = ""
	u.activeConversationID = ""
	u.mu.Unlock()

	v.mu.Lock()
	for convID, owner := range v.convIndex {
		if owner == userID {
			delete(v.convIndex, convID)
		}
	}
	v.mu.Unlock()
	return nil
}
