package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

type entry struct {
	vec      []float32
	metadata map[string]string
}

// InMemoryIndex is a brute-force cosine-similarity index, grounded on the
// teacher's memoryVector (internal/persistence/databases/memory_vector.go).
// Used as the default when no Qdrant DSN is configured.
type InMemoryIndex struct {
	mu        sync.RWMutex
	entries   map[string]entry
	dimension int
}

func NewInMemoryIndex(dimension int) *InMemoryIndex {
	return &InMemoryIndex{entries: make(map[string]entry), dimension: dimension}
}

func (idx *InMemoryIndex) Upsert(_ context.Context, id string, vec []float32, metadata map[string]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	idx.entries[id] = entry{vec: cp, metadata: copyMap(metadata)}
	return nil
}

func (idx *InMemoryIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
	return nil
}

func (idx *InMemoryIndex) SimilaritySearch(_ context.Context, vec []float32, k int, filter map[string]string) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := norm(vec)
	out := make([]Result, 0, len(idx.entries))
	for id, e := range idx.entries {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		out = append(out, Result{ID: id, Score: cosine(vec, e.vec, qnorm), Metadata: copyMap(e.metadata)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (idx *InMemoryIndex) Dimension() int { return idx.dimension }

func (idx *InMemoryIndex) Close() error { return nil }

func matchesFilter(md, f map[string]string) bool {
	if len(f) == 0 {
		return true
	}
	for k, v := range f {
		if md[k] != v {
			return false
		}
	}
	return true
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
