package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAICompatible_Embed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	p := NewOpenAICompatible(ts.URL, "secret", "m", 0)
	vecs, err := p.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vecs[0])
}

func TestOpenAICompatible_CountMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	p := NewOpenAICompatible(ts.URL, "secret", "m", 0)
	_, err := p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestService_EmbedIsDeterministicAndUnitLength(t *testing.T) {
	svc := NewService(NewDeterministic(16, true, 0), "det", 16)

	r1, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	r2, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, r1.Embedding, r2.Embedding)

	var sumSquares float64
	for _, x := range r1.Embedding {
		sumSquares += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sumSquares, 1e-6)
}

func TestService_DistinctInputsDistinctVectors(t *testing.T) {
	svc := NewService(NewDeterministic(16, true, 0), "det", 16)

	a, err := svc.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := svc.Embed(context.Background(), "beta")
	require.NoError(t, err)
	require.NotEqual(t, a.Embedding, b.Embedding)
}

func TestService_EmptyTextRejected(t *testing.T) {
	svc := NewService(NewDeterministic(16, true, 0), "det", 16)
	_, err := svc.Embed(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestCosine(t *testing.T) {
	require.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	require.Equal(t, 0.0, Cosine(nil, nil))
	require.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
}
