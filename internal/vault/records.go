package vault

import (
	"context"
	"sync"
	"time"

	"osqr/internal/model"
)

// recordStore is the vault's own RetrievalLookup/RecordSink: it keeps the
// retrieval-record history the retrospective utility pass (§4.10) counts
// against, and lets recordOutcome retroactively mark the most recent
// unset record for a memory. Grounded on the same per-user-partition,
// per-user-mutex shape as internal/episodic and internal/semantic.
type recordStore struct {
	mu      sync.Mutex
	byUser  map[string][]model.RetrievalRecord
}

func newRecordStore() *recordStore {
	return &recordStore{byUser: make(map[string][]model.RetrievalRecord)}
}

// Record satisfies retrieval.RecordSink.
func (r *recordStore) Record(_ context.Context, userID string, rec model.RetrievalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = append(r.byUser[userID], rec)
}

// CountsSince satisfies utility.RetrievalLookup.
func (r *recordStore) CountsSince(_ context.Context, userID, memoryID string, since time.Time) (retrieved, helpful int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byUser[userID] {
		if rec.MemoryID != memoryID || rec.Timestamp.Before(since) {
			continue
		}
		retrieved++
		if rec.WasHelpful != nil && *rec.WasHelpful {
			helpful++
		}
	}
	return
}

// markOutcome flags the most recent unset record for memoryID as helpful
// or not, so the next retrospective pass counts it. A memory with no
// pending record is a no-op: recordOutcome still applies its immediate
// utility delta regardless (see retrieval.go).
func (r *recordStore) markOutcome(userID, memoryID string, helpful bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.byUser[userID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].MemoryID == memoryID && recs[i].WasHelpful == nil {
			recs[i].WasHelpful = &helpful
			return
		}
	}
}
