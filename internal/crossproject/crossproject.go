// Package crossproject implements the Cross-Project Layer (spec §4.12):
// per-memory source context and cross-reference edges, plus
// queryCrossProject's candidate-gather / rank / common-themes /
// contradiction-detection / group-by-project pipeline. Grounded on the
// teacher's internal/sefii rerank-then-group shape (gather candidates,
// score, bucket by a grouping key), generalized from document chunks
// grouped by collection to memories grouped by project.
package crossproject

import (
	"context"
	"strings"
	"sync"

	"osqr/internal/embedding"
	"osqr/internal/model"
	"osqr/internal/retrieval"
)

const contradictionSimilarityThreshold = 0.6

var oppositeKeywordPairs = [][2]string{
	{"before", "after"},
	{"always", "never"},
	{"increase", "decrease"},
	{"started", "stopped"},
	{"joined", "left"},
}

type userOverlay struct {
	mu      sync.RWMutex
	source  map[string]model.SourceContext   // memoryID -> context
	xrefs   map[string][]model.CrossReference // memoryID -> outgoing edges
}

// Overlay stores per-user source context and cross-reference edges,
// keyed by memory id, never by pointer, matching spec §4.12's "memories
// reference other memories only by id" invariant.
type Overlay struct {
	mu    sync.RWMutex
	users map[string]*userOverlay
}

func New() *Overlay {
	return &Overlay{users: make(map[string]*userOverlay)}
}

func (o *Overlay) userFor(userID string) *userOverlay {
	o.mu.RLock()
	u, ok := o.users[userID]
	o.mu.RUnlock()
	if ok {
		return u
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if u, ok = o.users[userID]; ok {
		return u
	}
	u = &userOverlay{source: make(map[string]model.SourceContext), xrefs: make(map[string][]model.CrossReference)}
	o.users[userID] = u
	return u
}

// SetSourceContext records where memoryID was observed from.
func (o *Overlay) SetSourceContext(userID, memoryID string, ctx model.SourceContext) {
	u := o.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.source[memoryID] = ctx
}

// SourceContext returns the recorded context for memoryID, if any.
func (o *Overlay) SourceContext(userID, memoryID string) (model.SourceContext, bool) {
	u := o.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	c, ok := u.source[memoryID]
	return c, ok
}

// AddCrossReference records an outgoing edge from memoryID to ref.
func (o *Overlay) AddCrossReference(userID, memoryID string, ref model.CrossReference) {
	u := o.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.xrefs[memoryID] = append(u.xrefs[memoryID], ref)
}

// CrossReferences returns memoryID's outgoing edges.
func (o *Overlay) CrossReferences(userID, memoryID string) []model.CrossReference {
	u := o.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]model.CrossReference(nil), u.xrefs[memoryID]...)
}

// DeleteUser discards userID's entire source-context/cross-reference
// overlay, for the GDPR deleteUserData operation.
func (o *Overlay) DeleteUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.users, userID)
}

// Query is the input to QueryCrossProject.
type Query struct {
	Text                string
	UserID              string
	ProjectIDs          []string // empty = all projects
	Limit               int
	DetectContradictions bool
}

// ContradictionDetection is one flagged pair of memories that share a
// topic, are content-similar, but use opposite temporal/polarity language.
type ContradictionDetection struct {
	MemoryAID string
	MemoryBID string
	Topic     string
	Reason    string
}

// ProjectGroup is one project's slice of the result: its memories (scored
// and ranked) plus a short concatenated-topic summary line.
type ProjectGroup struct {
	ProjectID string
	Memories  []model.RetrievedMemory
	Summary   string
}

// Result is queryCrossProject's return value.
type Result struct {
	Groups         []ProjectGroup
	CommonThemes   []string
	Contradictions []ContradictionDetection
}

// Service answers cross-project queries over an Overlay and the
// retrieval pipeline's scorer.
type Service struct {
	overlay  *Overlay
	pipeline *retrieval.Pipeline
}

func NewService(overlay *Overlay, pipeline *retrieval.Pipeline) *Service {
	return &Service{overlay: overlay, pipeline: pipeline}
}

// QueryCrossProject runs the five-step pipeline from spec §4.12.
func (s *Service) QueryCrossProject(ctx context.Context, q Query) (Result, error) {
	opts := retrieval.DefaultOptions()
	if q.Limit > 0 {
		opts.MaxTokens = q.Limit * 200 // rough per-memory budget; grouping below re-slices precisely
	}
	resp, err := s.pipeline.RetrieveContext(ctx, q.UserID, q.Text, opts)
	if err != nil {
		return Result{}, err
	}

	projectFilter := make(map[string]bool, len(q.ProjectIDs))
	for _, p := range q.ProjectIDs {
		projectFilter[p] = true
	}

	byProject := map[string][]model.RetrievedMemory{}
	for _, rm := range resp.Memories {
		sc, ok := s.overlay.SourceContext(q.UserID, rm.Memory.ID)
		if !ok {
			continue
		}
		if len(projectFilter) > 0 && !projectFilter[sc.ProjectID] {
			continue
		}
		byProject[sc.ProjectID] = append(byProject[sc.ProjectID], rm)
	}

	if q.Limit > 0 {
		for pid, mems := range byProject {
			if len(mems) > q.Limit {
				byProject[pid] = mems[:q.Limit]
			}
		}
	}

	groups := make([]ProjectGroup, 0, len(byProject))
	for pid, mems := range byProject {
		groups = append(groups, ProjectGroup{
			ProjectID: pid,
			Memories:  mems,
			Summary:   summarize(mems),
		})
	}

	themes := commonThemes(groups)

	var detections []ContradictionDetection
	if q.DetectContradictions {
		detections = detectContradictions(resp.Memories)
	}

	return Result{Groups: groups, CommonThemes: themes, Contradictions: detections}, nil
}

// summarize concatenates each group's top topics into one short line.
func summarize(mems []model.RetrievedMemory) string {
	seen := map[string]bool{}
	var topics []string
	for _, rm := range mems {
		for _, t := range rm.Memory.Metadata.Topics {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	return strings.Join(topics, ", ")
}

// commonThemes returns topics present in every group's memory set.
func commonThemes(groups []ProjectGroup) []string {
	if len(groups) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, g := range groups {
		seenInGroup := map[string]bool{}
		for _, rm := range g.Memories {
			for _, t := range rm.Memory.Metadata.Topics {
				if !seenInGroup[t] {
					seenInGroup[t] = true
					counts[t]++
				}
			}
		}
	}
	var out []string
	for topic, n := range counts {
		if n == len(groups) {
			out = append(out, topic)
		}
	}
	return out
}

// detectContradictions flags memory pairs sharing a topic, content-similar
// by cosine above contradictionSimilarityThreshold, but containing an
// opposite-keyword pair, per spec §4.12 step 4.
func detectContradictions(memories []model.RetrievedMemory) []ContradictionDetection {
	var out []ContradictionDetection
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a, b := memories[i].Memory, memories[j].Memory
			topic, shared := sharedTopic(a.Metadata.Topics, b.Metadata.Topics)
			if !shared {
				continue
			}
			if embedding.Cosine(a.Embedding, b.Embedding) < contradictionSimilarityThreshold {
				continue
			}
			if pair, ok := opposingKeywords(a.Content, b.Content); ok {
				out = append(out, ContradictionDetection{
					MemoryAID: a.ID,
					MemoryBID: b.ID,
					Topic:     topic,
					Reason:    "opposing terms \"" + pair[0] + "\"/\"" + pair[1] + "\"",
				})
			}
		}
	}
	return out
}

func sharedTopic(a, b []string) (string, bool) {
	set := map[string]bool{}
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	for _, t := range b {
		if set[strings.ToLower(t)] {
			return t, true
		}
	}
	return "", false
}

func opposingKeywords(a, b string) ([2]string, bool) {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, pair := range oppositeKeywordPairs {
		if strings.Contains(la, pair[0]) && strings.Contains(lb, pair[1]) {
			return pair, true
		}
		if strings.Contains(la, pair[1]) && strings.Contains(lb, pair[0]) {
			return [2]string{pair[1], pair[0]}, true
		}
	}
	return [2]string{}, false
}
