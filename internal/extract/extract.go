// Package extract implements the LLM Extractor (spec §4.8): conversation
// + existing memories -> facts, summary, contradictions. Grounded on the
// teacher's internal/llm.CallLLM (OpenAI-compatible chat completion
// request/message conversion) generalized from free-form chat replies to
// a strict-JSON extraction contract, with the teacher's retry/backoff
// idiom from internal/rag/service applied around the call.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"osqr/internal/model"
)

const (
	defaultMinConfidence = 0.6
	defaultMaxFacts      = 20
	maxAttempts          = 3
)

// ChatMessage is the minimal role/content pair the extractor sends to the
// LLM, matching the teacher's ChatCompletionMessage shape.
type ChatMessage struct {
	Role    string
	Content string
}

// Completer is the pluggable LLM backend: one chat completion call that
// returns raw text (expected to be a JSON object per buildPrompt).
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Extractor runs conversations + existing memories through a Completer and
// parses the result into an ExtractionResult, never surfacing a parse or
// network failure as an error — callers always get a (possibly empty)
// result.
type Extractor struct {
	completer     Completer
	minConfidence float64
	maxFacts      int
	sleep         func(time.Duration)
}

type Option func(*Extractor)

func WithMinConfidence(v float64) Option { return func(e *Extractor) { e.minConfidence = v } }
func WithMaxFacts(n int) Option          { return func(e *Extractor) { e.maxFacts = n } }

func New(completer Completer, opts ...Option) *Extractor {
	e := &Extractor{
		completer:     completer,
		minConfidence: defaultMinConfidence,
		maxFacts:      defaultMaxFacts,
		sleep:         time.Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type rawFact struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Topics     []string `json:"topics"`
}

type rawContradiction struct {
	ExistingID string `json:"existingId"`
	FactIndex  int    `json:"factIndex"`
	Resolution string `json:"resolution"`
	Reason     string `json:"reason"`
}

type rawResult struct {
	Facts          []rawFact          `json:"facts"`
	Summary        string             `json:"summary"`
	Contradictions []rawContradiction `json:"contradictions"`
}

// Extract runs the extraction for conversation against existingMemories.
// It has no error return: on exhausted retries or any malformed response it
// returns an empty ExtractionResult (empty facts/contradictions slices, empty
// summary), so extraction failure degrades and never crashes the synthesis job.
func (e *Extractor) Extract(ctx context.Context, conversation []ChatMessage, existingMemories []model.SemanticMemory) model.ExtractionResult {
	prompt := buildPrompt(conversation, existingMemories)

	var raw string
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err = e.completer.Complete(ctx, prompt)
		if err == nil {
			break
		}
		if attempt < maxAttempts-1 {
			e.sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	if err != nil {
		return model.ExtractionResult{Facts: []model.ExtractedFact{}, Contradictions: []model.Contradiction{}}
	}

	return e.parse(raw)
}

func buildPrompt(conversation []ChatMessage, existing []model.SemanticMemory) []ChatMessage {
	var existingLines strings.Builder
	for _, m := range existing {
		fmt.Fprintf(&existingLines, "- [%s] %s (id=%s)\n", m.Category, m.Content, m.ID)
	}
	system := ChatMessage{
		Role: "system",
		Content: "Extract durable facts from the conversation below as a strict JSON object: " +
			`{"facts":[{"content":"","category":"","confidence":0,"topics":[]}],"summary":"",` +
			`"contradictions":[{"existingId":"","factIndex":0,"resolution":"keep_existing|replace_with_new|keep_both","reason":""}]}` +
			". Respond with JSON only, no prose, no markdown fences.",
	}
	user := ChatMessage{
		Role:    "user",
		Content: "Existing memories:\n" + existingLines.String() + "\nConversation:\n" + renderConversation(conversation),
	}
	return []ChatMessage{system, user}
}

func renderConversation(conversation []ChatMessage) string {
	var b strings.Builder
	for _, m := range conversation {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// parse applies the strict-JSON + filter/clamp/cap pipeline from §4.8.
// Any JSON error yields an empty result, never a panic or error return.
func (e *Extractor) parse(raw string) model.ExtractionResult {
	cleaned := stripCodeFence(raw)

	var parsed rawResult
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return model.ExtractionResult{Facts: []model.ExtractedFact{}, Contradictions: []model.Contradiction{}}
	}

	facts := make([]model.ExtractedFact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		if f.Content == "" {
			continue
		}
		cat := model.MemoryCategory(f.Category)
		if !model.ValidCategory(cat) {
			continue
		}
		conf := model.Clamp01(f.Confidence)
		if conf < e.minConfidence {
			continue
		}
		facts = append(facts, model.ExtractedFact{
			Content:    f.Content,
			Category:   cat,
			Confidence: conf,
			Topics:     f.Topics,
		})
		if len(facts) >= e.maxFacts {
			break
		}
	}

	contradictions := make([]model.Contradiction, 0, len(parsed.Contradictions))
	for _, c := range parsed.Contradictions {
		res := model.ContradictionResolution(c.Resolution)
		switch res {
		case model.ResolutionKeepExisting, model.ResolutionReplaceWithNew, model.ResolutionKeepBoth:
		default:
			continue
		}
		if c.FactIndex < 0 || c.FactIndex >= len(facts) {
			continue
		}
		if res == model.ResolutionReplaceWithNew {
			facts[c.FactIndex].Supersedes = append(facts[c.FactIndex].Supersedes, c.ExistingID)
		}
		contradictions = append(contradictions, model.Contradiction{
			ExistingID: c.ExistingID,
			FactIndex:  c.FactIndex,
			Resolution: res,
			Reason:     c.Reason,
		})
	}

	return model.ExtractionResult{
		Facts:          facts,
		Summary:        parsed.Summary,
		Contradictions: contradictions,
	}
}

// stripCodeFence removes a leading/trailing ```json ... ``` fence some
// models wrap their output in despite instructions not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
