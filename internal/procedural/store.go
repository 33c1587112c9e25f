// Package procedural implements the Procedural Store (spec §4.4):
// MentorScript/MentorRule version-aware operations, auto-expiring briefing
// scripts, and plugin permission lookups.
package procedural

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"osqr/internal/model"
	"osqr/internal/vaulterrors"
)

type userData struct {
	mu        sync.RWMutex
	scripts   map[string]model.MentorScript // scriptID -> script
	byProject map[string]string             // (userID implied) projectID ("" = global) -> scriptID
	briefings map[string]model.BriefingScript
	plugins   map[string]model.PluginRule
}

// Store is the procedural tier for all users in the process.
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
	u = &userData{
		scripts:   make(map[string]model.MentorScript),
		byProject: make(map[string]string),
		briefings: make(map[string]model.BriefingScript),
		plugins:   make(map[string]model.PluginRule),
	}
	s.users[userID] = u
	return u
}

// GetOrCreateScript returns the at-most-one MentorScript for
// (userID, projectID), creating it if absent.
func (s *Store) GetOrCreateScript(_ context.Context, userID, projectID string) model.MentorScript {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if id, ok := u.byProject[projectID]; ok {
		return u.scripts[id]
	}
	now := time.Now().UTC()
	script := model.MentorScript{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProjectID: projectID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.scripts[script.ID] = script
	u.byProject[projectID] = script.ID
	return script
}

// GetScripts returns the scripts visible for projectID: the global script
// (projectID="") plus the project-specific one, if any.
func (s *Store) GetScripts(_ context.Context, userID, projectID string) []model.MentorScript {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []model.MentorScript
	if id, ok := u.byProject[""]; ok {
		out = append(out, u.scripts[id])
	}
	if projectID != "" {
		if id, ok := u.byProject[projectID]; ok {
			out = append(out, u.scripts[id])
		}
	}
	return out
}

// StoreMentorRule appends rule to scriptID, bumping updatedAt. version only
// advances on an explicit IncrementVersion call.
func (s *Store) StoreMentorRule(_ context.Context, userID, scriptID string, rule model.MentorRule) (model.MentorScript, error) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	script, ok := u.scripts[scriptID]
	if !ok {
		return model.MentorScript{}, vaulterrors.New(vaulterrors.NotFound, "procedural.StoreMentorRule", fmt.Errorf("script %s", scriptID))
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	script.Rules = append(script.Rules, rule)
	script.UpdatedAt = time.Now().UTC()
	u.scripts[scriptID] = script
	return script, nil
}

// IncrementVersion bumps a script's version and updatedAt.
func (s *Store) IncrementVersion(_ context.Context, userID, scriptID string) (model.MentorScript, error) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	script, ok := u.scripts[scriptID]
	if !ok {
		return model.MentorScript{}, vaulterrors.New(vaulterrors.NotFound, "procedural.IncrementVersion", fmt.Errorf("script %s", scriptID))
	}
	script.Version++
	script.UpdatedAt = time.Now().UTC()
	u.scripts[scriptID] = script
	return script, nil
}

// RecordRuleApplied and RecordRuleHelpful maintain the invariant
// helpful <= applied: a helpful bump is rejected if it would cross the
// corresponding applied count.
func (s *Store) RecordRuleApplied(_ context.Context, userID, scriptID, ruleID string) error {
	return s.mutateRule(userID, scriptID, ruleID, func(r *model.MentorRule) error {
		r.AppliedCount++
		return nil
	})
}

func (s *Store) RecordRuleHelpful(_ context.Context, userID, scriptID, ruleID string) error {
	return s.mutateRule(userID, scriptID, ruleID, func(r *model.MentorRule) error {
		if r.HelpfulCount+1 > r.AppliedCount {
			return vaulterrors.New(vaulterrors.InvalidArgument, "procedural.RecordRuleHelpful", fmt.Errorf("helpful cannot exceed applied for rule %s", r.ID))
		}
		r.HelpfulCount++
		return nil
	})
}

func (s *Store) mutateRule(userID, scriptID, ruleID string, fn func(*model.MentorRule) error) error {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	script, ok := u.scripts[scriptID]
	if !ok {
		return vaulterrors.New(vaulterrors.NotFound, "procedural.mutateRule", fmt.Errorf("script %s", scriptID))
	}
	for i := range script.Rules {
		if script.Rules[i].ID == ruleID {
			if err := fn(&script.Rules[i]); err != nil {
				return err
			}
			u.scripts[scriptID] = script
			return nil
		}
	}
	return vaulterrors.New(vaulterrors.NotFound, "procedural.mutateRule", fmt.Errorf("rule %s", ruleID))
}

// AllScripts returns every MentorScript userID owns (global and
// project-scoped alike), for exportUserData.
func (s *Store) AllScripts(_ context.Context, userID string) []model.MentorScript {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]model.MentorScript, 0, len(u.scripts))
	for _, script := range u.scripts {
		out = append(out, script)
	}
	return out
}

// DeleteUser discards userID's entire procedural partition (scripts,
// briefings, plugin rules), for the GDPR deleteUserData operation.
func (s *Store) DeleteUser(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// SetBriefing stores a session's briefing script.
func (s *Store) SetBriefing(_ context.Context, userID string, b model.BriefingScript) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.briefings[b.SessionID] = b
}

// GetBriefing returns a session's briefing, auto-dropping and discarding it
// if expired (lazy cleanup on read).
func (s *Store) GetBriefing(_ context.Context, userID, sessionID string) (model.BriefingScript, bool) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.briefings[sessionID]
	if !ok {
		return model.BriefingScript{}, false
	}
	if b.ExpiresAt != nil && b.ExpiresAt.Before(time.Now().UTC()) {
		delete(u.briefings, sessionID)
		return model.BriefingScript{}, false
	}
	return b, true
}

// SetPluginRule upserts a plugin's permission set.
func (s *Store) SetPluginRule(_ context.Context, userID string, rule model.PluginRule) {
	u := s.userFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.plugins[rule.PluginID] = rule
}

// PluginAccess returns the Access level a plugin has on category. read
// permits read only; write permits both; an unknown plugin or category
// gets AccessNone.
func (s *Store) PluginAccess(_ context.Context, userID, pluginID string, category model.MemoryCategory) model.Access {
	u := s.userFor(userID)
	u.mu.RLock()
	defer u.mu.RUnlock()
	rule, ok := u.plugins[pluginID]
	if !ok || !rule.Active {
		return model.AccessNone
	}
	for _, p := range rule.Permissions {
		if p.Category == category {
			return p.Access
		}
	}
	return model.AccessNone
}
