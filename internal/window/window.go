// Package window implements the Working-Window Engine (spec §4.5): it
// derives a bounded, model-visible slice from an immutable, append-only
// full conversation history. The token-budget walk is grounded on the
// teacher's internal/agent/memory/manager.go BuildContext tail-window
// computation, generalized from its dual-summary compaction machinery down
// to the spec's two explicit modes (messages, tokens) plus
// preserveSystemMessages.
package window

import (
	"fmt"

	"osqr/internal/model"
)

// Result is computeWorkingWindow's return value.
type Result struct {
	Window           []model.Message
	TokensUsed       int
	MessagesExcluded int
}

// Compute derives the working window from fullHistory. fullHistory is never
// mutated; the window is a fresh slice built from the same Message values
// (by id, conceptually by reference).
func Compute(fullHistory []model.Message, cfg model.WindowConfig) (Result, error) {
	switch cfg.Mode {
	case model.WindowModeMessages, model.WindowModeTokens:
	default:
		return Result{}, fmt.Errorf("window: invalid mode %q", cfg.Mode)
	}

	var systemMsgs []model.Message
	var nonSystem []model.Message
	for _, m := range fullHistory {
		if m.Role == model.RoleSystem {
			systemMsgs = append(systemMsgs, m)
		} else {
			nonSystem = append(nonSystem, m)
		}
	}

	var tail []model.Message
	switch cfg.Mode {
	case model.WindowModeMessages:
		tail = lastNMessages(nonSystem, cfg.Size)
	case model.WindowModeTokens:
		tail = walkTokenBudget(nonSystem, cfg.Size)
	}

	var out []model.Message
	if cfg.PreserveSystemMessages {
		out = append(out, systemMsgs...)
	}
	out = append(out, tail...)

	var tokensUsed int
	for _, m := range out {
		tokensUsed += m.Tokens
	}

	return Result{
		Window:           out,
		TokensUsed:       tokensUsed,
		MessagesExcluded: len(fullHistory) - len(out),
	}, nil
}

// lastNMessages returns the last n messages (in order), or all of them if
// there are fewer than n.
func lastNMessages(msgs []model.Message, n int) []model.Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		out := make([]model.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]model.Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// walkTokenBudget walks msgs from the end, admitting messages while the
// cumulative token count stays <= budget, and stops at the first message
// that would push it over (it does not skip ahead for a smaller one later
// — the spec defines this mode as a contiguous tail).
func walkTokenBudget(msgs []model.Message, budget int) []model.Message {
	if budget <= 0 {
		return nil
	}
	var used int
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if used+msgs[i].Tokens > budget {
			break
		}
		used += msgs[i].Tokens
		start = i
	}
	out := make([]model.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// ExcludedSummary returns a human-readable "earlier in this conversation"
// note describing messages present in fullHistory but absent from window,
// for the caller to prepend ahead of the window.
func ExcludedSummary(fullHistory []model.Message, window []model.Message) string {
	inWindow := make(map[string]bool, len(window))
	for _, m := range window {
		inWindow[m.ID] = true
	}
	var excluded int
	var firstRole model.Role
	var haveFirst bool
	for _, m := range fullHistory {
		if inWindow[m.ID] {
			continue
		}
		excluded++
		if !haveFirst {
			firstRole = m.Role
			haveFirst = true
		}
	}
	if excluded == 0 {
		return ""
	}
	return fmt.Sprintf("Earlier in this conversation, %d message(s) were exchanged (starting with a %s message) and are not shown above.", excluded, firstRole)
}

// AddMessage appends msg to fullHistory and recomputes the window.
// Complexity is O(|fullHistory|) in both modes: the whole history is
// copied, and Compute scans all of it.
func AddMessage(fullHistory []model.Message, msg model.Message, cfg model.WindowConfig) ([]model.Message, Result, error) {
	updated := append(append([]model.Message(nil), fullHistory...), msg)
	res, err := Compute(updated, cfg)
	return updated, res, err
}

// CompactWorkingMemory is the legacy compaction path (spec §4.5): it
// summarizes a prefix of messages, archives it, and replaces the live
// message list. Retained only for backward compatibility — new code should
// rely on Compute/AddMessage, which never mutates full history.
func CompactWorkingMemory(messages []model.Message, keepLast int, summarize func([]model.Message) string) (summary string, archived []model.Message, remaining []model.Message) {
	if keepLast < 0 {
		keepLast = 0
	}
	if len(messages) <= keepLast {
		return "", nil, messages
	}
	cut := len(messages) - keepLast
	archived = messages[:cut]
	remaining = messages[cut:]
	summary = summarize(archived)
	return summary, archived, remaining
}
