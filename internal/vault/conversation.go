package vault

import (
	"context"
	"fmt"
	"time"

	"osqr/internal/model"
	"osqr/internal/queue"
	"osqr/internal/queue/bus"
	"osqr/internal/vaulterrors"
	"osqr/internal/window"
)

const windowCacheTTL = 10 * time.Minute

// StartSession opens a new session for userID and makes it the active one.
func (v *Vault) StartSession(ctx context.Context, userID string, deviceType model.DeviceType) (model.Session, error) {
	if !v.enabled() {
		return model.Session{}, nil
	}
	sess, err := v.episodic.StartSession(ctx, userID, deviceType)
	if err != nil {
		return model.Session{}, err
	}
	u := v.userFor(userID)
	u.mu.Lock()
	u.activeSessionID = sess.ID
	u.mu.Unlock()
	return sess, nil
}

// StartConversation opens a new conversation under the user's active
// session (or sessionID, if given explicitly) and makes it the active
// conversation.
func (v *Vault) StartConversation(ctx context.Context, userID, sessionID, projectID string) (model.Conversation, error) {
	if !v.enabled() {
		return model.Conversation{}, nil
	}
	u := v.userFor(userID)
	if sessionID == "" {
		u.mu.Lock()
		sessionID = u.activeSessionID
		u.mu.Unlock()
	}
	if sessionID == "" {
		return model.Conversation{}, vaulterrors.New(vaulterrors.InvalidArgument, "vault.StartConversation", fmt.Errorf("no active session for user %s", userID))
	}
	conv, err := v.episodic.StartConversation(ctx, userID, sessionID, projectID)
	if err != nil {
		return model.Conversation{}, err
	}
	u.mu.Lock()
	u.activeSessionID = sessionID
	u.activeConversationID = conv.ID
	u.mu.Unlock()
	v.mu.Lock()
	v.convIndex[conv.ID] = userID
	v.mu.Unlock()
	return conv, nil
}

// LoadConversation makes an existing conversation the user's active one,
// for resuming a session after a reconnect.
func (v *Vault) LoadConversation(ctx context.Context, userID, convID string) (model.Conversation, error) {
	conv, ok := v.episodic.GetConversation(ctx, userID, convID)
	if !ok {
		return model.Conversation{}, vaulterrors.New(vaulterrors.NotFound, "vault.LoadConversation", fmt.Errorf("conversation %s", convID))
	}
	u := v.userFor(userID)
	u.mu.Lock()
	u.activeConversationID = convID
	u.activeSessionID = conv.SessionID
	u.mu.Unlock()
	v.mu.Lock()
	v.convIndex[convID] = userID
	v.mu.Unlock()
	return conv, nil
}

// AddMessage appends msg to userID's active conversation and recomputes
// the working window. Returns invalid_argument if the user has no active
// conversation (addMessage never implicitly opens one).
func (v *Vault) AddMessage(ctx context.Context, userID string, msg model.Message) (model.Message, window.Result, error) {
	if !v.enabled() {
		return model.Message{}, window.Result{}, nil
	}
	u := v.userFor(userID)
	u.mu.Lock()
	convID := u.activeConversationID
	cfg := u.windowConfig
	u.mu.Unlock()
	if convID == "" {
		return model.Message{}, window.Result{}, vaulterrors.New(vaulterrors.InvalidArgument, "vault.AddMessage", fmt.Errorf("no active conversation for user %s", userID))
	}

	saved, err := v.episodic.AddMessage(ctx, userID, convID, msg)
	if err != nil {
		return model.Message{}, window.Result{}, err
	}
	if v.bus != nil {
		_ = v.bus.InvalidateWindow(ctx, convID)
	}

	conv, _ := v.episodic.GetConversation(ctx, userID, convID)
	res, err := window.Compute(conv.Messages, cfg)
	if err != nil {
		return saved, window.Result{}, nil
	}
	return saved, res, nil
}

// GetFullHistory returns a conversation's immutable message list in full,
// bypassing the working-window engine entirely.
func (v *Vault) GetFullHistory(ctx context.Context, userID, convID string) ([]model.Message, error) {
	conv, ok := v.episodic.GetConversation(ctx, userID, convID)
	if !ok {
		return nil, vaulterrors.New(vaulterrors.NotFound, "vault.GetFullHistory", fmt.Errorf("conversation %s", convID))
	}
	return conv.Messages, nil
}

// GetWorkingWindow recomputes the bounded, model-visible slice for
// userID's active conversation, consulting the Redis-backed cache first
// when one is wired.
func (v *Vault) GetWorkingWindow(ctx context.Context, userID string) (window.Result, error) {
	u := v.userFor(userID)
	u.mu.Lock()
	convID := u.activeConversationID
	cfg := u.windowConfig
	u.mu.Unlock()
	if convID == "" {
		return window.Result{}, nil
	}

	if v.bus != nil {
		if cached, ok, err := v.bus.GetWindow(ctx, convID); err == nil && ok {
			return cached.Result, nil
		}
	}

	conv, ok := v.episodic.GetConversation(ctx, userID, convID)
	if !ok {
		return window.Result{}, vaulterrors.New(vaulterrors.NotFound, "vault.GetWorkingWindow", fmt.Errorf("conversation %s", convID))
	}
	res, err := window.Compute(conv.Messages, cfg)
	if err != nil {
		return window.Result{}, vaulterrors.New(vaulterrors.InvalidArgument, "vault.GetWorkingWindow", err)
	}
	if v.bus != nil {
		_ = v.bus.SetWindow(ctx, convID, bus.CachedWindow{Result: res, UpdatedAt: v.now()}, windowCacheTTL)
	}
	return res, nil
}

// SetWindowConfig changes userID's window mode/size for subsequent reads.
func (v *Vault) SetWindowConfig(_ context.Context, userID string, cfg model.WindowConfig) {
	u := v.userFor(userID)
	u.mu.Lock()
	u.windowConfig = cfg
	u.mu.Unlock()
}

// EndConversation closes userID's active conversation and enqueues it for
// synthesis at normal priority. With no active conversation set, it is a
// no-op returning the zero value.
func (v *Vault) EndConversation(ctx context.Context, userID string) (model.Conversation, error) {
	u := v.userFor(userID)
	u.mu.Lock()
	convID := u.activeConversationID
	u.activeConversationID = ""
	u.mu.Unlock()
	if convID == "" {
		return model.Conversation{}, nil
	}

	conv, err := v.episodic.EndConversation(ctx, userID, convID)
	if err != nil {
		return model.Conversation{}, err
	}
	job := v.queue.Enqueue(userID, convID, queue.PriorityNormal)
	if v.eventlog != nil {
		_ = v.eventlog.Append(ctx, userID, queue.Event{Kind: queue.EventEnqueued, Job: job})
	}
	if v.bus != nil {
		_ = v.bus.PublishEvent(ctx, userID, queue.Event{Kind: queue.EventEnqueued, Job: job})
	}
	return conv, nil
}
