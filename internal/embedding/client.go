// Package embedding implements the vault's Embedding Service (spec §4.1):
// text -> unit-length vector of a fixed dimension, with a mandatory
// deterministic cache keyed by (text, model, dim) and a pluggable backend
// provider. Adapted from the teacher's OpenAI-compatible embeddings client.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"osqr/internal/observability"
	"osqr/internal/vconfig"
)

// ErrEmptyText is returned instead of a zero vector: the spec forbids
// silently returning an all-zero embedding for empty input.
var ErrEmptyText = fmt.Errorf("embedding: empty text is not embeddable")

// Result is one embedding plus the token count the provider billed for it.
type Result struct {
	Embedding  []float32
	TokensUsed int
}

// Provider is the pluggable backend: it fetches raw (not necessarily
// normalized) vectors for a batch of inputs.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Service wraps a Provider with the spec's determinism cache and unit-norm
// guarantee. f(x) = f(x) within a process; |f(x)|_2 = 1; distinct non-empty
// inputs map to distinct vectors with overwhelming probability (inherited
// from the provider / from the deterministic hash in NewDeterministic).
type Service struct {
	provider Provider
	model    string
	dim      int

	mu    sync.RWMutex
	cache map[string]Result
}

// NewService wraps provider with a cache. model/dim participate in the
// cache key so switching providers never serves a stale vector.
func NewService(provider Provider, model string, dim int) *Service {
	return &Service{provider: provider, model: model, dim: dim, cache: make(map[string]Result)}
}

// NewServiceFromConfig builds the provider named by cfg.Provider.
func NewServiceFromConfig(cfg vconfig.EmbeddingConfig) *Service {
	var p Provider
	switch cfg.Provider {
	case "openai":
		p = NewOpenAICompatible(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		p = NewDeterministic(cfg.Dim, true, 0)
	}
	return NewService(p, cfg.Model, cfg.Dim)
}

func cacheKey(model string, dim int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s|%d|%x", model, dim, sum)
}

// Embed returns the cached or freshly computed unit-length embedding for
// text. Empty text is rejected rather than silently embedded as zero.
func (s *Service) Embed(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{}, ErrEmptyText
	}
	key := cacheKey(s.model, s.dim, text)

	s.mu.RLock()
	if r, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	vecs, err := s.provider.Embed(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	if len(vecs) != 1 {
		return Result{}, fmt.Errorf("embedding: provider returned %d vectors for 1 input", len(vecs))
	}
	normalized := normalize(vecs[0])
	r := Result{Embedding: normalized, TokensUsed: len([]rune(text))/4 + 1}

	s.mu.Lock()
	s.cache[key] = r
	s.mu.Unlock()
	return r, nil
}

// EmbedBatch embeds each input independently, reusing the cache per item.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, len(texts))
	for i, t := range texts {
		r, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// CheckReachability sends a small test embed to verify the provider is
// reachable, mirroring the teacher's reachability probe.
func (s *Service) CheckReachability(ctx context.Context) error {
	if _, err := s.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("embedding reachability check failed: %w", err)
	}
	return nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine computes cosine similarity, returning 0 on length mismatch or a
// zero-magnitude vector rather than erroring — callers treat "no signal" as
// zero relevance, matching spec §4.6.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// --- Deterministic provider (Open Question: mock embeddings, spec §9) ---

// Deterministic produces a process-stable pseudo-embedding derived from a
// seeded hash of the input text. It is for tests and local development: it
// guarantees determinism and distinctness, never any geometric structure
// (similar meaning is not assumed to produce similar vectors).
type Deterministic struct {
	dim       int
	normalize bool
	seed      int64
}

// NewDeterministic constructs a mock provider. seed lets tests produce
// different-but-reproducible universes side by side.
func NewDeterministic(dim int, normalize bool, seed int64) *Deterministic {
	if dim <= 0 {
		dim = 64
	}
	return &Deterministic{dim: dim, normalize: normalize, seed: seed}
}

func (d *Deterministic) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = d.vectorFor(text)
	}
	return out, nil
}

func (d *Deterministic) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	var seedBytes [8]byte
	copy(seedBytes[:], sum[:8])
	s := int64(binary.BigEndian.Uint64(seedBytes[:])) ^ d.seed
	r := rand.New(rand.NewSource(s))
	v := make([]float32, d.dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	if d.normalize {
		v = normalize(v)
	}
	return v
}

// --- OpenAI-compatible HTTP provider ---

// OpenAICompatible calls an OpenAI-shaped /embeddings endpoint, adapted
// directly from the teacher's internal/embedding/client.go request/response
// shape and header handling.
type OpenAICompatible struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

func NewOpenAICompatible(baseURL, apiKey, model string, timeout time.Duration) *OpenAICompatible {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAICompatible{baseURL: baseURL, apiKey: apiKey, model: model, timeout: timeout, client: observability.NewHTTPClient(nil)}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAICompatible) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	body, err := json.Marshal(embedReq{Model: p.model, Input: inputs})
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(b))
	}

	var er embedResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}
