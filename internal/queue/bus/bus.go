// Package bus fans the synthesis queue's lifecycle events out across
// replicas and caches each conversation's last-computed working window, so
// a cluster of vault processes shares one view of "what's in flight" and
// doesn't recompute the same token-budget walk on every read. Grounded on
// the teacher's workspaces.RedisGenerationCache
// (internal/workspaces/redis_cache.go): same Ping-on-construct, same
// Publish/Subscribe-with-cancel-func shape, same SetNX-based lock
// primitive repurposed here as a single-writer guard for ProcessNext.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"osqr/internal/queue"
	"osqr/internal/window"
)

const (
	eventChannelPrefix = "vault:synth:events:"
	windowKeyPrefix    = "vault:window:"
	writerLockPrefix   = "vault:synth:writer-lock:"
)

// wireEvent is queue.Event's JSON-safe twin: the error field doesn't round
// trip through error, so it travels as a string.
type wireEvent struct {
	Kind queue.EventKind `json:"kind"`
	Job  queue.Job       `json:"job"`
	Err  string          `json:"err,omitempty"`
}

// Bus is a Redis-backed mirror of one Queue's events plus a working-window
// cache. A nil client degrades every method to a no-op/cache-miss, so
// callers can construct a Bus unconditionally and only wire a real client
// when Redis is configured.
type Bus struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

// PublishEvent mirrors ev onto userID's channel for other replicas.
func (b *Bus) PublishEvent(ctx context.Context, userID string, ev queue.Event) error {
	if b.client == nil {
		return nil
	}
	we := wireEvent{Kind: ev.Kind, Job: ev.Job}
	if ev.Err != nil {
		we.Err = ev.Err.Error()
	}
	data, err := json.Marshal(we)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, eventChannelPrefix+userID, data).Err()
}

// SubscribeEvents returns a channel of userID's mirrored events and a
// cancel func that closes the subscription and the channel.
func (b *Bus) SubscribeEvents(ctx context.Context, userID string) (<-chan queue.Event, func()) {
	out := make(chan queue.Event, 64)
	if b.client == nil {
		close(out)
		return out, func() {}
	}
	sub := b.client.Subscribe(ctx, eventChannelPrefix+userID)
	go func() {
		for msg := range sub.Channel() {
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				continue
			}
			ev := queue.Event{Kind: we.Kind, Job: we.Job}
			if we.Err != "" {
				ev.Err = errString(we.Err)
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	cancel := func() { _ = sub.Close(); close(out) }
	return out, cancel
}

// errString is a minimal error wrapper for events replayed off the wire.
type errString string

func (e errString) Error() string { return string(e) }

// CachedWindow is the unit stored per conversation.
type CachedWindow struct {
	Result    window.Result `json:"result"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// GetWindow returns the cached window for conversationID, or ok=false on a
// cache miss (including when Redis is not configured).
func (b *Bus) GetWindow(ctx context.Context, conversationID string) (CachedWindow, bool, error) {
	if b.client == nil {
		return CachedWindow{}, false, nil
	}
	data, err := b.client.Get(ctx, windowKeyPrefix+conversationID).Bytes()
	if err == redis.Nil {
		return CachedWindow{}, false, nil
	}
	if err != nil {
		return CachedWindow{}, false, err
	}
	var cw CachedWindow
	if err := json.Unmarshal(data, &cw); err != nil {
		return CachedWindow{}, false, err
	}
	return cw, true, nil
}

// SetWindow caches conversationID's computed window for ttl.
func (b *Bus) SetWindow(ctx context.Context, conversationID string, cw CachedWindow, ttl time.Duration) error {
	if b.client == nil {
		return nil
	}
	data, err := json.Marshal(cw)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, windowKeyPrefix+conversationID, data, ttl).Err()
}

// InvalidateWindow drops conversationID's cached window, e.g. after a new
// message is appended to its history.
func (b *Bus) InvalidateWindow(ctx context.Context, conversationID string) error {
	if b.client == nil {
		return nil
	}
	return b.client.Del(ctx, windowKeyPrefix+conversationID).Err()
}

// AcquireWriterLock enforces the single-writer assumption documented for
// Queue.ProcessNext across a cluster of schedulers: only the holder of
// userID's lock should drain that user's queue in a given tick.
func (b *Bus) AcquireWriterLock(ctx context.Context, userID, holderID string, ttl time.Duration) (bool, error) {
	if b.client == nil {
		return true, nil
	}
	return b.client.SetNX(ctx, writerLockPrefix+userID, holderID, ttl).Result()
}
