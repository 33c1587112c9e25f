// Package semantic implements the Semantic Store (spec §4.2): long-term
// facts with embeddings, utility scores, and a contradiction/supersession
// graph. The in-memory map is the hot path every read is served from;
// writes optionally flush through to a Persister. State is partitioned per
// user, each partition guarded by its own lock, matching spec §5's shared-
// resource policy — this generalizes the teacher's single mutex-guarded
// map (internal/persistence/databases/memory_vector.go) to a per-user
// partition scheme.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"osqr/internal/model"
	"osqr/internal/store/vector"
	"osqr/internal/vaulterrors"
)

// Persister is the optional durable write-through target. Implementations
// (e.g. internal/store/postgres) must tolerate Save being called again for
// an id that already exists (upsert semantics).
type Persister interface {
	Save(ctx context.Context, m model.SemanticMemory) error
	Delete(ctx context.Context, userID, id string) error
	LoadAll(ctx context.Context, userID string) ([]model.SemanticMemory, error)
}

// Criteria filters candidates in Filter and is reused by the retrieval
// pipeline's candidate-selection step.
type Criteria struct {
	Categories     []model.MemoryCategory // empty = all
	MinConfidence  float64
	MinUtility     float64
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ExcludeIDs     map[string]bool
	IncludeDormant bool // include memories that have been superseded
}

type partition struct {
	mu      sync.RWMutex
	byID    map[string]model.SemanticMemory
	dormant map[string]bool // ids that are the "old" side of a supersession edge
}

// Store is the semantic-memory tier for all users in the process.
type Store struct {
	mu         sync.RWMutex // guards the partitions map itself, not its contents
	partitions map[string]*partition
	persister  Persister
	index      vector.Index
}

// New constructs an empty Store. persister may be nil (pure in-memory).
func New(persister Persister) *Store {
	return &Store{partitions: make(map[string]*partition), persister: persister}
}

// NewWithIndex wires an accelerated similarity index (internal/store/vector)
// alongside the persister: every Create/Update that carries an embedding is
// upserted into index too, and retrieval.Pipeline can consult it via Index
// instead of scanning the whole partition once it grows large.
func NewWithIndex(persister Persister, index vector.Index) *Store {
	return &Store{partitions: make(map[string]*partition), persister: persister, index: index}
}

// Index exposes the wired similarity index, or nil if none was configured.
func (s *Store) Index() vector.Index { return s.index }

func (s *Store) indexMetadata(userID string, m model.SemanticMemory) map[string]string {
	return map[string]string{"userId": userID, "category": string(m.Category)}
}

func (s *Store) partitionFor(userID string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[userID]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[userID]; ok {
		return p
	}
	p = &partition{byID: make(map[string]model.SemanticMemory), dormant: make(map[string]bool)}
	s.partitions[userID] = p
	return p
}

// LoadUser hydrates a user's partition from the persister, if configured.
// Safe to call more than once; it overwrites the in-memory copy with the
// durable one.
func (s *Store) LoadUser(ctx context.Context, userID string) error {
	if s.persister == nil {
		return nil
	}
	mems, err := s.persister.LoadAll(ctx, userID)
	if err != nil {
		return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.LoadUser", err)
	}
	p := s.partitionFor(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range mems {
		p.byID[m.ID] = m
	}
	for _, m := range mems {
		for _, old := range m.Metadata.Supersedes {
			p.dormant[old] = true
		}
	}
	return nil
}

// Create inserts a new memory with utilityScore=0.5, accessCount=0, and
// empty edge sets, per spec §4.2.
func (s *Store) Create(ctx context.Context, userID, content string, category model.MemoryCategory, source model.MemorySource, embedding []float32, confidence float64) (model.SemanticMemory, error) {
	if content == "" {
		return model.SemanticMemory{}, vaulterrors.New(vaulterrors.InvalidArgument, "semantic.Create", fmt.Errorf("content is required"))
	}
	if !model.ValidCategory(category) {
		return model.SemanticMemory{}, vaulterrors.New(vaulterrors.InvalidArgument, "semantic.Create", fmt.Errorf("invalid category %q", category))
	}
	now := time.Now().UTC()
	mem := model.SemanticMemory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Content:        content,
		Embedding:      embedding,
		Category:       category,
		Source:         source,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		UtilityScore:   0.5,
		Confidence:     model.Clamp01(confidence),
		Metadata:       model.MemoryMetadata{},
	}

	p := s.partitionFor(userID)
	p.mu.Lock()
	p.byID[mem.ID] = mem
	p.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, mem); err != nil {
			return model.SemanticMemory{}, vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Create", err)
		}
	}
	if s.index != nil && len(mem.Embedding) > 0 {
		if err := s.index.Upsert(ctx, mem.ID, mem.Embedding, s.indexMetadata(userID, mem)); err != nil {
			return model.SemanticMemory{}, vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Create", err)
		}
	}
	return mem, nil
}

// Get returns a memory by id, or (zero, false) if absent.
func (s *Store) Get(_ context.Context, userID, id string) (model.SemanticMemory, bool) {
	p := s.partitionFor(userID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.byID[id]
	return m, ok
}

// Update applies patch to the stored memory, then merges the four metadata
// edge lists (topics, related, contradicts, supersedes) with their pre-patch
// values by set union, so a patch can add edges but never remove them.
func (s *Store) Update(ctx context.Context, userID, id string, patch func(*model.SemanticMemory)) (model.SemanticMemory, error) {
	p := s.partitionFor(userID)
	p.mu.Lock()
	m, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return model.SemanticMemory{}, vaulterrors.New(vaulterrors.NotFound, "semantic.Update", fmt.Errorf("memory %s", id))
	}
	before := m.Metadata
	patch(&m)
	m.Metadata.Topics = unionStrings(before.Topics, m.Metadata.Topics)
	m.Metadata.RelatedMemoryIDs = unionStrings(before.RelatedMemoryIDs, m.Metadata.RelatedMemoryIDs)
	m.Metadata.Contradicts = unionStrings(before.Contradicts, m.Metadata.Contradicts)
	m.Metadata.Supersedes = unionStrings(before.Supersedes, m.Metadata.Supersedes)
	p.byID[id] = m
	p.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, m); err != nil {
			return model.SemanticMemory{}, vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Update", err)
		}
	}
	if s.index != nil && len(m.Embedding) > 0 {
		if err := s.index.Upsert(ctx, m.ID, m.Embedding, s.indexMetadata(userID, m)); err != nil {
			return model.SemanticMemory{}, vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Update", err)
		}
	}
	return m, nil
}

// Delete removes a memory. Deleting a missing id is a no-op, consistent
// with the not_found policy of "operations return null/empty; never throw".
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	p := s.partitionFor(userID)
	p.mu.Lock()
	delete(p.byID, id)
	delete(p.dormant, id)
	p.mu.Unlock()
	if s.persister != nil {
		if err := s.persister.Delete(ctx, userID, id); err != nil {
			return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Delete", err)
		}
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.Delete", err)
		}
	}
	return nil
}

// RecordAccess bumps accessCount and lastAccessedAt. It is O(1) and does
// not flush through a persister synchronously (callers batch access
// tracking separately); lastAccessedAt advances strictly monotonically
// even under concurrent calls because updates happen under the partition
// lock.
func (s *Store) RecordAccess(_ context.Context, userID, id string) {
	p := s.partitionFor(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[id]
	if !ok {
		return
	}
	m.AccessCount++
	now := time.Now().UTC()
	if now.After(m.LastAccessedAt) {
		m.LastAccessedAt = now
	} else {
		m.LastAccessedAt = m.LastAccessedAt.Add(time.Nanosecond)
	}
	p.byID[id] = m
}

// Filter returns all memories for userID matching criteria. Dormant
// memories (superseded) are excluded unless IncludeDormant is set.
func (s *Store) Filter(_ context.Context, userID string, c Criteria) []model.SemanticMemory {
	p := s.partitionFor(userID)
	p.mu.RLock()
	defer p.mu.RUnlock()

	var catSet map[model.MemoryCategory]bool
	if len(c.Categories) > 0 {
		catSet = make(map[model.MemoryCategory]bool, len(c.Categories))
		for _, cat := range c.Categories {
			catSet[cat] = true
		}
	}

	out := make([]model.SemanticMemory, 0, len(p.byID))
	for id, m := range p.byID {
		if c.ExcludeIDs != nil && c.ExcludeIDs[id] {
			continue
		}
		if !c.IncludeDormant && p.dormant[id] {
			continue
		}
		if catSet != nil && !catSet[m.Category] {
			continue
		}
		if m.Confidence < c.MinConfidence {
			continue
		}
		if m.UtilityScore < c.MinUtility {
			continue
		}
		if c.CreatedAfter != nil && m.CreatedAt.Before(*c.CreatedAfter) {
			continue
		}
		if c.CreatedBefore != nil && m.CreatedAt.After(*c.CreatedBefore) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UtilityUpdate is one atomic clamp-to-[0,1] write in BatchUpdateUtility.
type UtilityUpdate struct {
	ID    string
	Score float64
}

// BatchUpdateUtility applies each update atomically per memory, clamped to
// [0,1]. Missing ids are skipped, not errors.
func (s *Store) BatchUpdateUtility(ctx context.Context, userID string, updates []UtilityUpdate) error {
	p := s.partitionFor(userID)
	var changed []model.SemanticMemory
	p.mu.Lock()
	for _, u := range updates {
		m, ok := p.byID[u.ID]
		if !ok {
			continue
		}
		m.UtilityScore = model.Clamp01(u.Score)
		p.byID[u.ID] = m
		changed = append(changed, m)
	}
	p.mu.Unlock()

	if s.persister != nil {
		for _, m := range changed {
			if err := s.persister.Save(ctx, m); err != nil {
				return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.BatchUpdateUtility", err)
			}
		}
	}
	return nil
}

// MarkContradiction records a symmetric contradiction edge between a and b.
// Idempotent; refuses self-reference.
func (s *Store) MarkContradiction(ctx context.Context, userID, a, b string) error {
	if a == b {
		return vaulterrors.New(vaulterrors.InvalidArgument, "semantic.MarkContradiction", fmt.Errorf("self-reference"))
	}
	if _, err := s.Update(ctx, userID, a, func(m *model.SemanticMemory) {
		m.Metadata.Contradicts = appendUnique(m.Metadata.Contradicts, b)
	}); err != nil {
		return err
	}
	_, err := s.Update(ctx, userID, b, func(m *model.SemanticMemory) {
		m.Metadata.Contradicts = appendUnique(m.Metadata.Contradicts, a)
	})
	return err
}

// MarkSupersession records that newID supersedes oldID. Idempotent, refuses
// self-reference, and rejects any edge that would close a cycle in the
// supersession DAG.
func (s *Store) MarkSupersession(ctx context.Context, userID, newID, oldID string) error {
	if newID == oldID {
		return vaulterrors.New(vaulterrors.InvalidArgument, "semantic.MarkSupersession", fmt.Errorf("self-reference"))
	}
	p := s.partitionFor(userID)
	p.mu.Lock()
	if s.wouldCycle(p, newID, oldID) {
		p.mu.Unlock()
		return vaulterrors.New(vaulterrors.InvalidArgument, "semantic.MarkSupersession", fmt.Errorf("edge %s->%s would create a cycle", newID, oldID))
	}
	m, ok := p.byID[newID]
	if !ok {
		p.mu.Unlock()
		return vaulterrors.New(vaulterrors.NotFound, "semantic.MarkSupersession", fmt.Errorf("memory %s", newID))
	}
	m.Metadata.Supersedes = appendUnique(m.Metadata.Supersedes, oldID)
	p.byID[newID] = m
	p.dormant[oldID] = true
	p.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, m); err != nil {
			return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.MarkSupersession", err)
		}
	}
	return nil
}

// wouldCycle reports whether adding edge newID->oldID (newID supersedes
// oldID) would create a cycle, i.e. oldID already (transitively)
// supersedes newID. Caller must hold p.mu.
func (s *Store) wouldCycle(p *partition, newID, oldID string) bool {
	visited := map[string]bool{}
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == newID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		m, ok := p.byID[id]
		if !ok {
			return false
		}
		for _, next := range m.Metadata.Supersedes {
			if walk(next) {
				return true
			}
		}
		return false
	}
	return walk(oldID)
}

// Link inserts a symmetric "related" relation between a and b.
func (s *Store) Link(ctx context.Context, userID, a, b string) error {
	if a == b {
		return vaulterrors.New(vaulterrors.InvalidArgument, "semantic.Link", fmt.Errorf("self-reference"))
	}
	if _, err := s.Update(ctx, userID, a, func(m *model.SemanticMemory) {
		m.Metadata.RelatedMemoryIDs = appendUnique(m.Metadata.RelatedMemoryIDs, b)
	}); err != nil {
		return err
	}
	_, err := s.Update(ctx, userID, b, func(m *model.SemanticMemory) {
		m.Metadata.RelatedMemoryIDs = appendUnique(m.Metadata.RelatedMemoryIDs, a)
	})
	return err
}

// ApplyUtilityDecay multiplies every memory's utility by (1-rate), clamped
// to the floor.
func (s *Store) ApplyUtilityDecay(ctx context.Context, userID string, rate, floor float64) error {
	p := s.partitionFor(userID)
	var changed []model.SemanticMemory
	p.mu.Lock()
	for id, m := range p.byID {
		m.UtilityScore = clampFloor(m.UtilityScore*(1-rate), floor)
		p.byID[id] = m
		changed = append(changed, m)
	}
	p.mu.Unlock()

	if s.persister != nil {
		for _, m := range changed {
			if err := s.persister.Save(ctx, m); err != nil {
				return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.ApplyUtilityDecay", err)
			}
		}
	}
	return nil
}

// IsDormant reports whether id has been superseded (retrievable only with
// Criteria.IncludeDormant).
func (s *Store) IsDormant(userID, id string) bool {
	p := s.partitionFor(userID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dormant[id]
}

// AllUserIDs returns every user with at least one loaded partition, for
// schedulers that need to iterate every vault.
func (s *Store) AllUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		out = append(out, id)
	}
	return out
}

// DeleteUser removes every memory in userID's partition, durable store
// included, for the GDPR deleteUserData operation. Persister delete
// failures are collected but do not stop the sweep; the in-memory
// partition is always cleared.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	p := s.partitionFor(userID)
	p.mu.Lock()
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	p.byID = make(map[string]model.SemanticMemory)
	p.dormant = make(map[string]bool)
	p.mu.Unlock()

	s.mu.Lock()
	delete(s.partitions, userID)
	s.mu.Unlock()

	var firstErr error
	if s.persister != nil {
		for _, id := range ids {
			if err := s.persister.Delete(ctx, userID, id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.index != nil {
		for _, id := range ids {
			if err := s.index.Delete(ctx, id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return vaulterrors.New(vaulterrors.UpstreamFailure, "semantic.DeleteUser", firstErr)
	}
	return nil
}

func clampFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	if v > 1 {
		return 1
	}
	return v
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
