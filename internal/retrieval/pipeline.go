// Package retrieval implements the Retrieval Pipeline (spec §4.6):
// embed -> candidate filter -> score -> sort -> relevance floor ->
// diversify -> token-budget select -> record retrieval + access.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"osqr/internal/embedding"
	"osqr/internal/model"
	"osqr/internal/semantic"
	"osqr/internal/store/vector"
)

// indexPrefetchSize bounds how many nearest neighbors are pulled from an
// accelerated index before the usual recency/utility/diversity passes run.
const indexPrefetchSize = 200

// Weights are the default scoring coefficients from spec §4.6.
type Weights struct {
	Similarity          float64
	Recency             float64
	Utility             float64
	ContradictionFactor float64
	DecayDays           float64
}

func DefaultWeights() Weights {
	return Weights{Similarity: 0.5, Recency: 0.2, Utility: 0.3, ContradictionFactor: 0.7, DecayDays: 30}
}

// Options configures one retrieveContext call.
type Options struct {
	Categories       []model.MemoryCategory
	ExcludeIDs       map[string]bool
	MinRelevance     float64 // default 0.6
	MaxTokens        int     // default 4000
	BoostRecent      bool
	BoostHighUtility bool
	Weights          Weights
	DiversityFactor  float64 // default 0.3
}

func DefaultOptions() Options {
	return Options{
		MinRelevance:     0.6,
		MaxTokens:        4000,
		BoostRecent:      true,
		BoostHighUtility: true,
		Weights:          DefaultWeights(),
		DiversityFactor:  0.3,
	}
}

// Response is retrieveContext's return value.
type Response struct {
	Memories        []model.RetrievedMemory
	TokensUsed      int
	TotalCandidates int
	RetrievalTimeMs int64
}

// RecordSink receives one RetrievalRecord per selected memory. The vault
// facade wires this to durable storage; tests may pass nil.
type RecordSink interface {
	Record(ctx context.Context, userID string, rec model.RetrievalRecord)
}

// Pipeline ties the semantic store and embedding service together.
type Pipeline struct {
	Store    *semantic.Store
	Embedder *embedding.Service
	Sink     RecordSink
	Now      func() time.Time

	// Index, when non-nil, narrows candidate gathering to an ANN prefetch
	// instead of a full partition scan. Left nil this degrades to the
	// original Store.Filter scan, so wiring it is purely an accelerant.
	Index vector.Index
}

func New(store *semantic.Store, embedder *embedding.Service, sink RecordSink) *Pipeline {
	return &Pipeline{
		Store:    store,
		Embedder: embedder,
		Sink:     sink,
		Now:      func() time.Time { return time.Now().UTC() },
		Index:    store.Index(),
	}
}

type scored struct {
	memory model.SemanticMemory
	score  float64
}

// gatherCandidates returns Store.Filter's full scan, unless Index is wired
// and answers; then it resolves the index's nearest-neighbor ids back into
// full records and applies the same category/confidence/dormant/exclude
// rules Filter would, so results stay identical in substance regardless of
// which path ran. Falls back to the full scan on any index error.
func (p *Pipeline) gatherCandidates(ctx context.Context, userID string, queryEmbedding []float32, opts Options) []model.SemanticMemory {
	criteria := semantic.Criteria{Categories: opts.Categories, MinConfidence: 0.5, ExcludeIDs: opts.ExcludeIDs}
	if p.Index == nil {
		return p.Store.Filter(ctx, userID, criteria)
	}

	hits, err := p.Index.SimilaritySearch(ctx, queryEmbedding, indexPrefetchSize, map[string]string{"userId": userID})
	if err != nil || len(hits) == 0 {
		return p.Store.Filter(ctx, userID, criteria)
	}

	var catSet map[model.MemoryCategory]bool
	if len(criteria.Categories) > 0 {
		catSet = make(map[model.MemoryCategory]bool, len(criteria.Categories))
		for _, c := range criteria.Categories {
			catSet[c] = true
		}
	}

	out := make([]model.SemanticMemory, 0, len(hits))
	for _, h := range hits {
		m, ok := p.Store.Get(ctx, userID, h.ID)
		if !ok {
			continue
		}
		if criteria.ExcludeIDs != nil && criteria.ExcludeIDs[m.ID] {
			continue
		}
		if p.Store.IsDormant(userID, m.ID) {
			continue
		}
		if catSet != nil && !catSet[m.Category] {
			continue
		}
		if m.Confidence < criteria.MinConfidence {
			continue
		}
		out = append(out, m)
	}
	return out
}

// RetrieveContext runs the full pipeline. An empty query returns an empty
// result with no error, per spec §8 boundary cases.
func (p *Pipeline) RetrieveContext(ctx context.Context, userID, query string, opts Options) (Response, error) {
	start := p.Now()
	if opts.MinRelevance == 0 && opts.MaxTokens == 0 {
		opts = mergeDefaults(opts)
	}
	if query == "" {
		return Response{Memories: []model.RetrievedMemory{}, TokensUsed: 0}, nil
	}

	queryResult, err := p.Embedder.Embed(ctx, query)
	if err != nil {
		// upstream_failure degrades to empty result, never a crash.
		return Response{Memories: []model.RetrievedMemory{}, TokensUsed: 0}, nil
	}

	candidates := p.gatherCandidates(ctx, userID, queryResult.Embedding, opts)
	return p.scoreAndSelect(ctx, userID, query, candidates, queryResult.Embedding, opts, start, nil), nil
}

// scoreAndSelect runs the shared tail of the pipeline — score, sort,
// relevance floor, diversify, budget-select, then record access/outcome
// tracking — over whatever candidate set the caller assembled. bonus, if
// non-nil, adjusts a candidate's similarity score after the base scoring
// pass (e.g. SearchMemories' text-match boost); it runs before the
// relevance floor so a boosted low-similarity match can still clear it.
func (p *Pipeline) scoreAndSelect(ctx context.Context, userID, query string, candidates []model.SemanticMemory, queryEmbedding []float32, opts Options, start time.Time, bonus func(model.SemanticMemory) float64) Response {
	now := p.Now()
	scoredList := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		s := p.score(m, queryEmbedding, opts, now)
		if bonus != nil {
			s = model.Clamp01(s * bonus(m))
		}
		scoredList = append(scoredList, scored{memory: m, score: s})
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		if !scoredList[i].memory.CreatedAt.Equal(scoredList[j].memory.CreatedAt) {
			return scoredList[i].memory.CreatedAt.After(scoredList[j].memory.CreatedAt)
		}
		return scoredList[i].memory.ID < scoredList[j].memory.ID
	})

	filtered := scoredList[:0:0]
	for _, s := range scoredList {
		if s.score >= opts.MinRelevance {
			filtered = append(filtered, s)
		}
	}

	diversified := diversify(filtered, opts.DiversityFactor)
	selected := budgetSelect(diversified, opts.MaxTokens)

	out := make([]model.RetrievedMemory, 0, len(selected))
	var tokensUsed int
	for _, s := range selected {
		out = append(out, model.RetrievedMemory{Memory: s.memory, RelevanceScore: s.score})
		tokensUsed += model.EstimateTokens(s.memory.Content)
		p.Store.RecordAccess(ctx, userID, s.memory.ID)
		if p.Sink != nil {
			p.Sink.Record(ctx, userID, model.RetrievalRecord{
				MemoryID:  s.memory.ID,
				Query:     query,
				Timestamp: now,
			})
		}
	}

	return Response{
		Memories:        out,
		TokensUsed:      tokensUsed,
		TotalCandidates: len(candidates),
		RetrievalTimeMs: p.Now().Sub(start).Milliseconds(),
	}
}

func mergeDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MinRelevance == 0 {
		opts.MinRelevance = def.MinRelevance
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = def.Weights
	}
	if opts.DiversityFactor == 0 {
		opts.DiversityFactor = def.DiversityFactor
	}
	return opts
}

func (p *Pipeline) score(m model.SemanticMemory, queryEmbedding []float32, opts Options, now time.Time) float64 {
	similarity := embedding.Cosine(queryEmbedding, m.Embedding)

	var recencyBoost float64
	if opts.BoostRecent {
		daysSinceAccess := now.Sub(m.LastAccessedAt).Hours() / 24
		decayDays := opts.Weights.DecayDays
		if decayDays <= 0 {
			decayDays = 30
		}
		recencyBoost = math.Exp(-daysSinceAccess/decayDays) * opts.Weights.Recency
	}

	var utilityBoost float64
	if opts.BoostHighUtility {
		utilityBoost = m.UtilityScore * opts.Weights.Utility
	}

	var contradictionPenalty float64
	if len(m.Metadata.Contradicts) > 0 {
		contradictionPenalty = 1 - opts.Weights.ContradictionFactor
	}

	raw := similarity*opts.Weights.Similarity + recencyBoost + utilityBoost
	return model.Clamp01(raw * (1 - contradictionPenalty))
}

// diversify greedily selects, at each step, the candidate maximizing
// score*(1-d) + (1-maxSimToSelected)*d. O(k*n) in candidate count.
func diversify(candidates []scored, d float64) []scored {
	if len(candidates) == 0 {
		return nil
	}
	remaining := append([]scored(nil), candidates...)
	var chosen []scored

	for len(remaining) > 0 {
		bestIdx := -1
		var bestValue float64
		for i, c := range remaining {
			maxSim := 0.0
			for _, sel := range chosen {
				sim := embedding.Cosine(c.memory.Embedding, sel.memory.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			value := c.score*(1-d) + (1-maxSim)*d
			if bestIdx == -1 || value > bestValue {
				bestIdx = i
				bestValue = value
			}
		}
		chosen = append(chosen, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return chosen
}

// budgetSelect includes candidates in order until cumulative token
// estimate would exceed maxTokens, then keeps trying smaller candidates
// after a skip (it does not stop at the first refusal, unlike the
// working-window's tokens mode).
func budgetSelect(candidates []scored, maxTokens int) []scored {
	var used int
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		t := model.EstimateTokens(c.memory.Content)
		if used+t > maxTokens {
			continue
		}
		used += t
		out = append(out, c)
	}
	return out
}

// SearchMemories is the hybrid text+semantic search: any memory containing
// query as a literal substring is folded into the semantic candidate pool
// before scoring, then gets a +20% score bonus, so an exact text match with
// weak embedding similarity can still clear MinRelevance — a plain reorder
// of RetrieveContext's already-filtered output could never rescue it.
func (p *Pipeline) SearchMemories(ctx context.Context, userID, query string, opts Options) (Response, error) {
	start := p.Now()
	if opts.MinRelevance == 0 && opts.MaxTokens == 0 {
		opts = mergeDefaults(opts)
	}
	if query == "" {
		return Response{Memories: []model.RetrievedMemory{}, TokensUsed: 0}, nil
	}

	queryResult, err := p.Embedder.Embed(ctx, query)
	if err != nil {
		return Response{Memories: []model.RetrievedMemory{}, TokensUsed: 0}, nil
	}

	candidates := p.gatherCandidates(ctx, userID, queryResult.Embedding, opts)
	candidates = p.mergeTextMatches(ctx, userID, query, candidates, opts)

	lowerQuery := strings.ToLower(query)
	bonus := func(m model.SemanticMemory) float64 {
		if strings.Contains(strings.ToLower(m.Content), lowerQuery) {
			return 1.2
		}
		return 1.0
	}
	return p.scoreAndSelect(ctx, userID, query, candidates, queryResult.Embedding, opts, start, bonus), nil
}

// mergeTextMatches adds any memory containing query as a literal substring
// that gatherCandidates' similarity-ranked scan missed (e.g. a record whose
// embedding similarity falls below the index prefetch or Filter's usual
// confidence floor). MinConfidence is deliberately left unset here: an
// exact text match is its own relevance signal independent of confidence.
func (p *Pipeline) mergeTextMatches(ctx context.Context, userID, query string, candidates []model.SemanticMemory, opts Options) []model.SemanticMemory {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.ID] = true
	}

	lowerQuery := strings.ToLower(query)
	textCriteria := semantic.Criteria{Categories: opts.Categories, ExcludeIDs: opts.ExcludeIDs}
	for _, m := range p.Store.Filter(ctx, userID, textCriteria) {
		if seen[m.ID] || !strings.Contains(strings.ToLower(m.Content), lowerQuery) {
			continue
		}
		candidates = append(candidates, m)
		seen[m.ID] = true
	}
	return candidates
}

// NewRetrievalRecordID is a small helper so callers that build their own
// RecordSink can mint ids consistently with the rest of the vault.
func NewRetrievalRecordID() string { return uuid.NewString() }
