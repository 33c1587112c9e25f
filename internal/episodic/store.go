// Package episodic implements the Episodic Store (spec §4.3): session and
// conversation/message CRUD, plus the metadata-extraction holders
// (entities with case-insensitive mention merging, commitments, and a
// lower-cased topic set). Partitioned per user with a per-user lock,
// matching the same shared-resource policy as internal/semantic.
package episodic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"osqr/internal/model"
	"osqr/internal/vaulterrors"
)

type userData struct {
	mu            sync.RWMutex
	sessions      map[string]model.Session
	conversations map[string]model.Conversation
}

// Store is the episodic tier for all users in the process.
type Store struct {
	mu    sync.RWMutex
	users map[string]*userData
}

func New() *Store {
	return &Store{users: make(map[string]*userData)}
}

func (s *Store) userFor(userID string) *userData {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return u
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userID]; ok {
		return u
	}
	u = &userData{sessions: make(map[string]model.Session), conversations: make(map[string]model.Conversation)}
	s.users[userID] = u
	return u
}

// StartSession opens a new session for userID on the given device.
func (s *Store) StartSession(_ context.Context, userID string, deviceType model.DeviceType) (model.Session, error) {
	u := s.userFor(userID)
	sess := model.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		StartedAt:  time.Now().UTC(),
		DeviceType: deviceType,
	}
	u.mu.Lock()
	u.sessions[sess.ID] = sess
	u.mu.Unlock()
	return sess, nil
}

// EndSession closes a session. Ending a session does not end its
// conversations.
func (s *Store) EndSession(_ context.Context, userID, sessionID string) error {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	sess, ok := u.sessions[sessionID]
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "episodic.EndSession", fmt.Errorf("session %s", sessionID))
	}
	if sess.EndedAt == nil {
		now := time.Now().UTC()
		sess.EndedAt = &now
		u.sessions[sessionID] = sess
	}
	return nil
}

// StartConversation opens a new conversation under sessionID.
func (s *Store) StartConversation(_ context.Context, userID, sessionID, projectID string) (model.Conversation, error) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	sess, ok := u.sessions[sessionID]
	if !ok {
		return model.Conversation{}, vaulterrors.New(vaulterrors.NotFound, "episodic.StartConversation", fmt.Errorf("session %s", sessionID))
	}
	now := time.Now().UTC()
	conv := model.Conversation{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ProjectID:     projectID,
		StartedAt:     now,
		LastMessageAt: now,
	}
	u.conversations[conv.ID] = conv
	sess.ConversationIDs = append(sess.ConversationIDs, conv.ID)
	u.sessions[sessionID] = sess
	return conv, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(_ context.Context, userID, convID string) (model.Conversation, bool) {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	c, ok := u.conversations[convID]
	return c, ok
}

// AddMessage appends msg to convID's immutable history. Never inserts in
// the middle.
func (s *Store) AddMessage(_ context.Context, userID, convID string, msg model.Message) (model.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Tokens == 0 {
		msg.Tokens = model.EstimateTokens(msg.Content)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	conv, ok := u.conversations[convID]
	if !ok {
		return model.Message{}, vaulterrors.New(vaulterrors.NotFound, "episodic.AddMessage", fmt.Errorf("conversation %s", convID))
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastMessageAt = msg.Timestamp
	u.conversations[convID] = conv
	return msg, nil
}

// EndConversation transitions endedAt null -> set exactly once. Calling it
// again is a no-op (monotonic transition).
func (s *Store) EndConversation(_ context.Context, userID, convID string) (model.Conversation, error) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	conv, ok := u.conversations[convID]
	if !ok {
		return model.Conversation{}, vaulterrors.New(vaulterrors.NotFound, "episodic.EndConversation", fmt.Errorf("conversation %s", convID))
	}
	if conv.EndedAt == nil {
		now := time.Now().UTC()
		conv.EndedAt = &now
		u.conversations[convID] = conv
	}
	return conv, nil
}

// SetSummary writes the conversation summary exactly once; a second call is
// rejected with invalid_argument rather than silently overwriting.
func (s *Store) SetSummary(_ context.Context, userID, convID, summary string) error {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	conv, ok := u.conversations[convID]
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "episodic.SetSummary", fmt.Errorf("conversation %s", convID))
	}
	if conv.Summary != "" {
		return vaulterrors.New(vaulterrors.InvalidArgument, "episodic.SetSummary", fmt.Errorf("summary already written for %s", convID))
	}
	conv.Summary = summary
	u.conversations[convID] = conv
	return nil
}

// MergeMetadata applies extracted topics/entities/commitments/sentiment to
// a conversation. Entities are merged by case-insensitive name; topics are
// kept as a lower-cased set.
func (s *Store) MergeMetadata(_ context.Context, userID, convID string, topics, entities, commitments []string, sentiment string) error {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	conv, ok := u.conversations[convID]
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "episodic.MergeMetadata", fmt.Errorf("conversation %s", convID))
	}
	conv.Metadata.Topics = mergeLowercaseSet(conv.Metadata.Topics, topics)
	conv.Metadata.Entities = mergeEntitiesCaseInsensitive(conv.Metadata.Entities, entities)
	conv.Metadata.Commitments = appendAllUnique(conv.Metadata.Commitments, commitments)
	if sentiment != "" {
		conv.Metadata.Sentiment = sentiment
	}
	u.conversations[convID] = conv
	return nil
}

// ArchiveMessages and ReplaceMessages together support the legacy
// compaction path (spec §4.5): they summarize-and-replace a prefix of the
// live conversation. New code should prefer the working-window engine;
// these exist only for backward compatibility with callers that still
// compact in place.
func (s *Store) ArchiveMessages(_ context.Context, userID, convID string, archived []model.Message) error {
	// Archived messages are retained by the caller (e.g. written to cold
	// storage); this store only needs to know they left the live list,
	// which ReplaceMessages handles.
	_ = archived
	u := s.userFor(userID)
	u.mu.RLock()
	_, ok := u.conversations[convID]
	u.mu.RUnlock()
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "episodic.ArchiveMessages", fmt.Errorf("conversation %s", convID))
	}
	return nil
}

func (s *Store) ReplaceMessages(_ context.Context, userID, convID string, messages []model.Message) error {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	conv, ok := u.conversations[convID]
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "episodic.ReplaceMessages", fmt.Errorf("conversation %s", convID))
	}
	conv.Messages = messages
	u.conversations[convID] = conv
	return nil
}

// GetRecentSummaries returns episodic summaries sorted by timestamp desc;
// only conversations with a non-empty summary participate.
func (s *Store) GetRecentSummaries(_ context.Context, userID string, limit int) []model.Conversation {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]model.Conversation, 0)
	for _, c := range u.conversations {
		if c.Summary != "" {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OrphanedConversations returns conversations ended within the last window
// whose summary is still empty, for the scheduler's orphan-recovery driver.
func (s *Store) OrphanedConversations(_ context.Context, userID string, within time.Duration) []model.Conversation {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-within)
	out := make([]model.Conversation, 0)
	for _, c := range u.conversations {
		if c.EndedAt != nil && c.Summary == "" && c.EndedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// IdleConversations returns still-open conversations (EndedAt nil) whose
// last message is older than threshold, for the scheduler's inactivity-
// timeout driver. Unlike OrphanedConversations, these were never
// explicitly ended, so they would otherwise never be picked up for
// synthesis.
func (s *Store) IdleConversations(_ context.Context, userID string, threshold time.Duration) []model.Conversation {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	out := make([]model.Conversation, 0)
	for _, c := range u.conversations {
		if c.EndedAt == nil && c.LastMessageAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Stats returns userID's session/conversation/message counts, for
// getVaultStats.
func (s *Store) Stats(_ context.Context, userID string) (sessions, conversations, messages int) {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	sessions = len(u.sessions)
	conversations = len(u.conversations)
	for _, c := range u.conversations {
		messages += len(c.Messages)
	}
	return
}

// AllSessions and AllConversations return every session/conversation for
// userID, for exportUserData.
func (s *Store) AllSessions(_ context.Context, userID string) []model.Session {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]model.Session, 0, len(u.sessions))
	for _, sess := range u.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Store) AllConversations(_ context.Context, userID string) []model.Conversation {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]model.Conversation, 0, len(u.conversations))
	for _, c := range u.conversations {
		out = append(out, c)
	}
	return out
}

// AllUserIDs returns every user with at least one loaded partition, for
// schedulers that need to iterate every vault.
func (s *Store) AllUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	return out
}

// DeleteUser discards userID's entire episodic partition, for the GDPR
// deleteUserData operation.
func (s *Store) DeleteUser(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

func mergeLowercaseSet(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(add))
	for _, t := range existing {
		lt := strings.ToLower(t)
		if !seen[lt] {
			seen[lt] = true
			out = append(out, lt)
		}
	}
	for _, t := range add {
		lt := strings.ToLower(t)
		if !seen[lt] {
			seen[lt] = true
			out = append(out, lt)
		}
	}
	return out
}

func mergeEntitiesCaseInsensitive(existing, add []string) []string {
	seen := make(map[string]string, len(existing)) // lower -> canonical
	out := make([]string, 0, len(existing)+len(add))
	for _, e := range existing {
		l := strings.ToLower(e)
		if _, ok := seen[l]; !ok {
			seen[l] = e
			out = append(out, e)
		}
	}
	for _, e := range add {
		l := strings.ToLower(e)
		if _, ok := seen[l]; !ok {
			seen[l] = e
			out = append(out, e)
		}
	}
	return out
}

func appendAllUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(add))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
