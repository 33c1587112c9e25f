// Package model defines the data shapes shared across every vault tier:
// episodic (sessions, conversations, messages), semantic (long-term
// memories), procedural (mentor scripts, briefings, plugin rules), and the
// cross-project overlay. Types here carry no behavior beyond small pure
// helpers; tier packages own the operations.
package model

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is immutable once stored, except UtilityScore which may be set
// later by the learning loop.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Tokens       int       `json:"tokens"`
	UtilityScore *float64  `json:"utilityScore,omitempty"`
}

// EstimateTokens implements the spec's ceiling heuristic: ceil(len(content)/4).
func EstimateTokens(content string) int {
	n := len([]rune(content))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// ConversationMetadata holds the freeform extraction holders the episodic
// store accumulates during a conversation's lifetime.
type ConversationMetadata struct {
	Topics      []string `json:"topics"`
	Entities    []string `json:"entities"`
	Commitments []string `json:"commitments"`
	Sentiment   string   `json:"sentiment"`
}

// Conversation belongs to exactly one Session. EndedAt transitions
// nil -> set exactly once; Summary is written exactly once by synthesis.
// LastMessageAt tracks the most recent AddMessage call, independent of
// StartedAt, so the scheduler can detect an abandoned conversation that
// was never explicitly ended.
type Conversation struct {
	ID            string               `json:"id"`
	SessionID     string               `json:"sessionId"`
	ProjectID     string               `json:"projectId,omitempty"`
	Messages      []Message            `json:"messages"`
	StartedAt     time.Time            `json:"startedAt"`
	LastMessageAt time.Time            `json:"lastMessageAt"`
	EndedAt       *time.Time           `json:"endedAt,omitempty"`
	Summary       string               `json:"summary,omitempty"`
	Metadata      ConversationMetadata `json:"metadata"`
}

// DeviceType identifies the client surface a session was opened from.
type DeviceType string

// Session groups one or more conversations under a single login/device
// presence. Ending a session does not end its conversations.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DeviceType      DeviceType `json:"deviceType"`
	ConversationIDs []string   `json:"conversationIds"`
}

// MemoryCategory enumerates the semantic store's access-control unit.
type MemoryCategory string

const (
	CategoryPersonalInfo   MemoryCategory = "personal_info"
	CategoryBusinessInfo   MemoryCategory = "business_info"
	CategoryRelationships  MemoryCategory = "relationships"
	CategoryProjects       MemoryCategory = "projects"
	CategoryPreferences    MemoryCategory = "preferences"
	CategoryDomainKnowledge MemoryCategory = "domain_knowledge"
	CategoryDecisions      MemoryCategory = "decisions"
	CategoryCommitments    MemoryCategory = "commitments"
)

// ValidCategory reports whether c is one of the eight recognized categories.
func ValidCategory(c MemoryCategory) bool {
	switch c {
	case CategoryPersonalInfo, CategoryBusinessInfo, CategoryRelationships,
		CategoryProjects, CategoryPreferences, CategoryDomainKnowledge,
		CategoryDecisions, CategoryCommitments:
		return true
	}
	return false
}

// MemorySource records provenance for a semantic memory.
type MemorySource struct {
	Type       string    `json:"type"` // e.g. "synthesis", "api"
	SourceID   string    `json:"sourceId"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// MemoryMetadata holds the four edge lists. Edges are ids, never pointers,
// so the supersession/contradiction graph stays a DAG by construction and
// memories never cyclically own each other.
type MemoryMetadata struct {
	Topics           []string `json:"topics"`
	RelatedMemoryIDs []string `json:"relatedMemoryIds"`
	Contradicts      []string `json:"contradicts"`
	Supersedes       []string `json:"supersedes"`
}

// SemanticMemory is a durable fact with an embedding and a learned utility.
type SemanticMemory struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Category       MemoryCategory `json:"category"`
	Source         MemorySource   `json:"source"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
	AccessCount    int64          `json:"accessCount"`
	UtilityScore   float64        `json:"utilityScore"`
	Confidence     float64        `json:"confidence"`
	Metadata       MemoryMetadata `json:"metadata"`
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SourceContext is the cross-project overlay attached to a memory: where it
// was observed from.
type SourceContext struct {
	ProjectID      string    `json:"projectId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	DocumentID     string    `json:"documentId,omitempty"`
	Interface      string    `json:"interface"` // web, vscode, mobile, voice, api
	Timestamp      time.Time `json:"timestamp"`
}

// RelationshipType enumerates a CrossReference's relation to its target.
type RelationshipType string

const (
	RelationSupports   RelationshipType = "supports"
	RelationContradicts RelationshipType = "contradicts"
	RelationExtends    RelationshipType = "extends"
	RelationRelated    RelationshipType = "related"
)

// CrossReference links a memory to another memory, possibly in a different
// project.
type CrossReference struct {
	TargetMemoryID  string           `json:"targetMemoryId"`
	TargetProjectID string           `json:"targetProjectId,omitempty"`
	RelationshipType RelationshipType `json:"relationshipType"`
	Strength        float64          `json:"strength"`
	DiscoveredAt    time.Time        `json:"discoveredAt"`
	DiscoveredBy    string           `json:"discoveredBy"` // user, system
}

// MentorRule is one directive inside a MentorScript.
type MentorRule struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Source        string    `json:"source"` // user_defined, inferred, plugin
	Priority      int       `json:"priority"`
	AppliedCount  int64     `json:"appliedCount"`
	HelpfulCount  int64     `json:"helpfulCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MentorScript holds the rules active for a user, optionally scoped to one
// project. At most one MentorScript exists per (userId, projectId).
type MentorScript struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	ProjectID string       `json:"projectId,omitempty"` // empty = global
	Rules     []MentorRule `json:"rules"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// BriefingScript is session-scoped guidance that auto-expires on read.
type BriefingScript struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"sessionId"`
	Instructions []string   `json:"instructions"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Access is a plugin's read/write permission on a single category.
type Access string

const (
	AccessNone  Access = "none"
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// PluginPermission grants one plugin an Access level on one category.
type PluginPermission struct {
	Category MemoryCategory `json:"category"`
	Access   Access         `json:"access"`
}

// PluginRule is the full permission set for one plugin.
type PluginRule struct {
	PluginID    string             `json:"pluginId"`
	Rules       []string           `json:"rules"`
	Permissions []PluginPermission `json:"permissions"`
	Active      bool               `json:"active"`
}

// RequesterType identifies who is asking the privacy gate for data.
type RequesterType string

const (
	RequesterPlugin    RequesterType = "plugin"
	RequesterComponent RequesterType = "component"
	RequesterUser      RequesterType = "user"
)

// AccessLogEntry is one append-only audit record. Audit sinks only append;
// no operation in this module removes entries.
type AccessLogEntry struct {
	ID                 string        `json:"id"`
	RequesterID        string        `json:"requesterId"`
	RequesterType      RequesterType `json:"requesterType"`
	UserID             string        `json:"userId"`
	CategoriesRequested []string     `json:"categoriesRequested"`
	CategoriesProvided  []string     `json:"categoriesProvided"`
	RedactionsApplied   []string     `json:"redactionsApplied"`
	Timestamp           time.Time    `json:"timestamp"`
}

// WindowMode selects how computeWorkingWindow bounds the visible tail.
type WindowMode string

const (
	WindowModeMessages WindowMode = "messages"
	WindowModeTokens   WindowMode = "tokens"
)

// WindowConfig configures the working-window engine for one session.
type WindowConfig struct {
	Mode                  WindowMode `json:"mode"`
	Size                  int        `json:"size"`
	PreserveSystemMessages bool      `json:"preserveSystemMessages"`
}

// DefaultWindowConfig matches the teacher's default tail-window sizing
// (messages mode, a conservative default size) generalized to the spec's
// two explicit modes.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{Mode: WindowModeMessages, Size: 20, PreserveSystemMessages: true}
}

// RetrievedMemory is one scored, selected memory returned by the retrieval
// pipeline.
type RetrievedMemory struct {
	Memory         SemanticMemory `json:"memory"`
	RelevanceScore float64        `json:"relevanceScore"`
}

// RetrievalRecord is written for every memory the pipeline selects.
type RetrievalRecord struct {
	MemoryID   string    `json:"memoryId"`
	Query      string    `json:"query"`
	Timestamp  time.Time `json:"timestamp"`
	WasHelpful *bool     `json:"wasHelpful"`
}

// Outcome enumerates the feedback values recordOutcome accepts.
type Outcome string

const (
	OutcomeUsed       Outcome = "used"
	OutcomeHelpful    Outcome = "helpful"
	OutcomeNotHelpful Outcome = "not_helpful"
	OutcomeIgnored    Outcome = "ignored"
)

// ExtractedFact is one candidate memory surfaced by the LLM extractor,
// prior to the filter/clamp/cap pass (§4.8).
type ExtractedFact struct {
	Content    string         `json:"content"`
	Category   MemoryCategory `json:"category"`
	Confidence float64        `json:"confidence"`
	Topics     []string       `json:"topics"`
	Supersedes []string       `json:"supersedes,omitempty"`
}

// ContradictionResolution enumerates how a detected contradiction between
// a new fact and an existing memory should be handled.
type ContradictionResolution string

const (
	ResolutionKeepExisting    ContradictionResolution = "keep_existing"
	ResolutionReplaceWithNew  ContradictionResolution = "replace_with_new"
	ResolutionKeepBoth        ContradictionResolution = "keep_both"
)

// Contradiction is one detected conflict between a new fact and an
// existing memory, as returned by the LLM extractor.
type Contradiction struct {
	ExistingID string                   `json:"existingId"`
	FactIndex  int                      `json:"factIndex"`
	Resolution ContradictionResolution  `json:"resolution"`
	Reason     string                   `json:"reason"`
}

// ExtractionResult is the LLM extractor's output (§4.8).
type ExtractionResult struct {
	Facts         []ExtractedFact `json:"facts"`
	Summary       string          `json:"summary"`
	Contradictions []Contradiction `json:"contradictions"`
}
