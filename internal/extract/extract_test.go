package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubCompleter) Complete(_ context.Context, _ []ChatMessage) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func noSleep(time.Duration) {}

func TestExtractParsesWellFormedJSON(t *testing.T) {
	resp := `{"facts":[{"content":"user works at Acme","category":"business_info","confidence":0.9,"topics":["work"]}],"summary":"discussed job","contradictions":[]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep

	result := e.Extract(context.Background(), []ChatMessage{{Role: "user", Content: "I work at Acme"}}, nil)
	require.Len(t, result.Facts, 1)
	require.Equal(t, "user works at Acme", result.Facts[0].Content)
	require.Equal(t, "discussed job", result.Summary)
}

func TestExtractStripsCodeFence(t *testing.T) {
	resp := "```json\n{\"facts\":[],\"summary\":\"\",\"contradictions\":[]}\n```"
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Facts)
}

func TestExtractMalformedJSONReturnsEmptyNotError(t *testing.T) {
	c := &stubCompleter{responses: []string{"not json at all"}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.NotNil(t, result.Facts)
	require.Empty(t, result.Facts)
	require.NotNil(t, result.Contradictions)
}

func TestExtractDropsFactsBelowMinConfidence(t *testing.T) {
	resp := `{"facts":[{"content":"low conf fact","category":"projects","confidence":0.3,"topics":[]}],"summary":"","contradictions":[]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Facts)
}

func TestExtractDropsInvalidCategory(t *testing.T) {
	resp := `{"facts":[{"content":"fact","category":"not_a_real_category","confidence":0.9,"topics":[]}],"summary":"","contradictions":[]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Facts)
}

func TestExtractCapsToMaxFacts(t *testing.T) {
	resp := `{"facts":[` +
		`{"content":"f1","category":"projects","confidence":0.9},` +
		`{"content":"f2","category":"projects","confidence":0.9},` +
		`{"content":"f3","category":"projects","confidence":0.9}` +
		`],"summary":"","contradictions":[]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c, WithMaxFacts(2))
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Len(t, result.Facts, 2)
}

func TestExtractReplaceWithNewAnnotatesSupersedes(t *testing.T) {
	resp := `{"facts":[{"content":"I joined NewCo","category":"business_info","confidence":0.9}],` +
		`"summary":"","contradictions":[{"existingId":"old-id","factIndex":0,"resolution":"replace_with_new","reason":"job changed"}]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Len(t, result.Facts, 1)
	require.Equal(t, []string{"old-id"}, result.Facts[0].Supersedes)
	require.Len(t, result.Contradictions, 1)
}

func TestExtractDropsContradictionWithBadFactIndex(t *testing.T) {
	resp := `{"facts":[{"content":"f1","category":"projects","confidence":0.9}],` +
		`"summary":"","contradictions":[{"existingId":"x","factIndex":5,"resolution":"keep_both","reason":"n/a"}]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Contradictions)
}

func TestExtractRetriesOnErrorThenSucceeds(t *testing.T) {
	c := &stubCompleter{
		errs:      []error{errors.New("network blip"), errors.New("network blip"), nil},
		responses: []string{"", "", `{"facts":[],"summary":"ok","contradictions":[]}`},
	}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Equal(t, "ok", result.Summary)
	require.Equal(t, 3, c.calls)
}

func TestExtractExhaustsRetriesReturnsEmpty(t *testing.T) {
	c := &stubCompleter{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Facts)
	require.Equal(t, maxAttempts, c.calls)
}

func TestExtractFiltersMissingContent(t *testing.T) {
	resp := `{"facts":[{"content":"","category":"projects","confidence":0.9}],"summary":"","contradictions":[]}`
	c := &stubCompleter{responses: []string{resp}}
	e := New(c)
	e.sleep = noSleep
	result := e.Extract(context.Background(), nil, nil)
	require.Empty(t, result.Facts)
}
