// Package privacy implements the Privacy Gate (spec §4.11): tiered
// category allowlists, content redaction, and append-only audit logging
// for every plugin-facing data request. Redaction actions are adapted
// from the teacher's internal/observability/redact.go key-based JSON
// redaction pattern, generalized from "redact sensitive JSON keys" to
// content-pattern redaction (remove/generalize/hash) over memory text.
package privacy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"osqr/internal/model"
)

// Tier is a named allowlist of memory categories a requester may read.
type Tier string

const (
	TierNone       Tier = "none"
	TierMinimal    Tier = "minimal"
	TierContextual Tier = "contextual"
	TierFull       Tier = "full"
)

var tierCategories = map[Tier]map[model.MemoryCategory]bool{
	TierNone:    {},
	TierMinimal: {model.CategoryPreferences: true},
	TierContextual: {
		model.CategoryPreferences:     true,
		model.CategoryBusinessInfo:    true,
		model.CategoryProjects:        true,
		model.CategoryDomainKnowledge: true,
	},
	TierFull: {
		model.CategoryPreferences:     true,
		model.CategoryBusinessInfo:    true,
		model.CategoryProjects:        true,
		model.CategoryDomainKnowledge: true,
		model.CategoryDecisions:       true,
		model.CategoryCommitments:     true,
		model.CategoryRelationships:   true,
	},
}

// AllowedCategories returns the set of categories tier permits.
// personal_info is never included regardless of tier, per spec §4.11.
func AllowedCategories(tier Tier) map[model.MemoryCategory]bool {
	return tierCategories[tier]
}

// ResolveTier determines the effective tier for a request: components
// always get contextual, users reading their own data always get full,
// and everyone else (plugins) gets the tier configured for them.
func ResolveTier(requesterType model.RequesterType, configured Tier) Tier {
	switch requesterType {
	case model.RequesterComponent:
		return TierContextual
	case model.RequesterUser:
		return TierFull
	default:
		return configured
	}
}

// RedactionAction is one content-pattern redaction rule.
type RedactionAction string

const (
	ActionRemove     RedactionAction = "remove"
	ActionGeneralize RedactionAction = "generalize"
	ActionHash       RedactionAction = "hash"
)

// RedactionRule pairs a regexp with the action to take on a match.
// Generalize rules carry a human-readable replacement; Remove/Hash ignore it.
type RedactionRule struct {
	Pattern     *regexp.Regexp
	Action      RedactionAction
	Replacement string // used only for ActionGeneralize
}

// DefaultRules is the always-on rule set, applied regardless of tier: it
// removes SSN-shaped numbers, replaces email addresses with a hash, and
// generalizes large dollar amounts. No rule matches medical content.
func DefaultRules() []RedactionRule {
	return []RedactionRule{
		{Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Action: ActionRemove},                 // SSN-shaped
		{Pattern: regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`), Action: ActionHash},             // email
		{Pattern: regexp.MustCompile(`\$>?\s?\d+(\.\d+)?\s?[MmKk]\b`), Action: ActionGeneralize, Replacement: "[substantial financial goals]"},
		{Pattern: regexp.MustCompile(`\$[\d,]{4,}(\.\d+)?\b`), Action: ActionGeneralize, Replacement: "[substantial financial goals]"},
	}
}

// Request is one plugin (or component/user) data access request.
type Request struct {
	RequesterID   string
	RequesterType model.RequesterType
	Query         string
	Categories    []model.MemoryCategory // optional narrowing; empty = tier default
	Tier          Tier
	RequireWrite  bool
}

// Response is processPluginRequest's return value (§4.11).
type Response struct {
	Content           string
	Categories        []model.MemoryCategory
	Confidence        float64
	RedactionsApplied []string
}

// AuditSink receives every access-log entry. The vault facade wires this
// to durable storage (e.g. ClickHouse per SPEC_FULL.md); tests may pass
// an in-memory implementation.
type AuditSink interface {
	Append(ctx context.Context, entry model.AccessLogEntry)
}

// MemorySink is an in-memory, append-only AuditSink for tests and local
// development.
type MemorySink struct {
	mu      sync.Mutex
	entries []model.AccessLogEntry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(_ context.Context, entry model.AccessLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *MemorySink) Entries() []model.AccessLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AccessLogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Gate enforces tiered read access, redaction, and audit logging.
type Gate struct {
	rules []RedactionRule
	sink  AuditSink
	now   func() time.Time
}

func New(sink AuditSink, rules []RedactionRule) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Gate{rules: rules, sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// ErrWriteRequiresFullTier is returned by CheckWrite when the effective
// tier is below full.
var ErrWriteRequiresFullTier = fmt.Errorf("privacy: writes require the full tier")

// CheckWrite enforces that writes only proceed under the full tier.
func (g *Gate) CheckWrite(tier Tier) error {
	if tier != TierFull {
		return ErrWriteRequiresFullTier
	}
	return nil
}

// ProcessPluginRequest filters memories to req's allowed categories,
// redacts the resulting content, logs the access, and returns a
// synthesized response.
func (g *Gate) ProcessPluginRequest(ctx context.Context, req Request, userID string, memories []model.SemanticMemory) Response {
	allowed := AllowedCategories(req.Tier)
	if len(req.Categories) > 0 {
		narrowed := make(map[model.MemoryCategory]bool, len(req.Categories))
		for _, c := range req.Categories {
			if allowed[c] {
				narrowed[c] = true
			}
		}
		allowed = narrowed
	}

	var filtered []model.SemanticMemory
	categoriesProvided := map[model.MemoryCategory]bool{}
	for _, m := range memories {
		if m.Category == model.CategoryPersonalInfo {
			continue // never exposed to plugins, regardless of tier
		}
		if !allowed[m.Category] {
			continue
		}
		filtered = append(filtered, m)
		categoriesProvided[m.Category] = true
	}

	var sb strings.Builder
	var redactionsApplied []string
	var confidenceSum float64
	for i, m := range filtered {
		content, applied := g.redact(m.Content)
		redactionsApplied = append(redactionsApplied, applied...)
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(content)
		confidenceSum += m.Confidence
	}

	var meanConfidence float64
	if len(filtered) > 0 {
		meanConfidence = confidenceSum / float64(len(filtered))
	}

	categoriesRequested := make([]string, len(req.Categories))
	for i, c := range req.Categories {
		categoriesRequested[i] = string(c)
	}
	categoriesOut := make([]model.MemoryCategory, 0, len(categoriesProvided))
	categoriesOutStr := make([]string, 0, len(categoriesProvided))
	for c := range categoriesProvided {
		categoriesOut = append(categoriesOut, c)
		categoriesOutStr = append(categoriesOutStr, string(c))
	}

	g.sink.Append(ctx, model.AccessLogEntry{
		ID:                  uuid.NewString(),
		RequesterID:         req.RequesterID,
		RequesterType:       req.RequesterType,
		UserID:              userID,
		CategoriesRequested: categoriesRequested,
		CategoriesProvided:  categoriesOutStr,
		RedactionsApplied:   redactionsApplied,
		Timestamp:           g.now(),
	})

	return Response{
		Content:           cleanup(sb.String()),
		Categories:        categoriesOut,
		Confidence:        meanConfidence,
		RedactionsApplied: redactionsApplied,
	}
}

// redact applies every rule to text, returning the redacted text and the
// list of action names applied (for audit logging).
func (g *Gate) redact(text string) (string, []string) {
	var applied []string
	for _, rule := range g.rules {
		if !rule.Pattern.MatchString(text) {
			continue
		}
		applied = append(applied, string(rule.Action))
		text = rule.Pattern.ReplaceAllStringFunc(text, func(match string) string {
			switch rule.Action {
			case ActionRemove:
				return ""
			case ActionGeneralize:
				return rule.Replacement
			case ActionHash:
				sum := sha256.Sum256([]byte(match))
				return fmt.Sprintf("[REDACTED:%x]", sum[:4])
			default:
				return match
			}
		})
	}
	return text, applied
}

var (
	emptyBracketsRe = regexp.MustCompile(`\[\s*\]|\(\s*\)`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
	prePunctRe      = regexp.MustCompile(`\s+([.,!?;:])`)
)

// cleanup is the post-redaction pass: drop empty brackets, collapse
// whitespace runs, and remove whitespace immediately before punctuation.
func cleanup(s string) string {
	s = emptyBracketsRe.ReplaceAllString(s, "")
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	s = prePunctRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
