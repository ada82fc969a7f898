// Package presence tracks short-lived typing flags per user per session.
// Flags live in a TTL'd store rather than in client-owned timers, so a
// client that dies mid-keystroke cannot leave a stale "typing" forever: the
// store clears the flag itself when the debounce window elapses.
package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypingTTL is the debounce window. A flag set to true auto-clears this
// long after the last keystroke-equivalent event.
const TypingTTL = 2500 * time.Millisecond

const typingKeyPrefix = "typing:"

// Tracker stores and reads typing flags.
type Tracker interface {
	SetTyping(ctx context.Context, sessionID, userID int, typing bool) error
	Snapshot(ctx context.Context, sessionID int, participants []int) (map[int]bool, error)
}

func typingKey(sessionID, userID int) string {
	return fmt.Sprintf("%s%d:%d", typingKeyPrefix, sessionID, userID)
}

// RedisTracker keeps typing flags in Redis with a per-key TTL.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker builds a tracker on the given client. A zero ttl means
// TypingTTL.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = TypingTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

// SetTyping sets or clears the flag. Setting true refreshes the TTL, which
// is the debounce reset on every keystroke-equivalent event.
func (t *RedisTracker) SetTyping(ctx context.Context, sessionID, userID int, typing bool) error {
	key := typingKey(sessionID, userID)
	if !typing {
		return t.client.Del(ctx, key).Err()
	}
	return t.client.Set(ctx, key, "1", t.ttl).Err()
}

// Snapshot reads the flags for the given participants in one round trip.
func (t *RedisTracker) Snapshot(ctx context.Context, sessionID int, participants []int) (map[int]bool, error) {
	if len(participants) == 0 {
		return map[int]bool{}, nil
	}
	keys := make([]string, 0, len(participants))
	for _, userID := range participants {
		keys = append(keys, typingKey(sessionID, userID))
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	snapshot := make(map[int]bool, len(participants))
	for i, userID := range participants {
		snapshot[userID] = values[i] != nil
	}
	return snapshot, nil
}

// MemoryTracker is the in-process fallback used when Redis is not
// configured, and in tests. Expiry runs on a timer per flag.
type MemoryTracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	flags  map[string]*time.Timer
	onStop func(sessionID, userID int)
}

// NewMemoryTracker builds an in-memory tracker. A zero ttl means TypingTTL.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = TypingTTL
	}
	return &MemoryTracker{ttl: ttl, flags: make(map[string]*time.Timer)}
}

// OnExpire registers a callback fired when a flag auto-clears, so the owner
// can fan out the changed summary to viewers.
func (t *MemoryTracker) OnExpire(fn func(sessionID, userID int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// SetTyping sets or clears the flag, restarting the debounce timer on every
// true.
func (t *MemoryTracker) SetTyping(_ context.Context, sessionID, userID int, typing bool) error {
	key := typingKey(sessionID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.flags[key]; ok {
		timer.Stop()
		delete(t.flags, key)
	}
	if !typing {
		return nil
	}
	t.flags[key] = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		delete(t.flags, key)
		fn := t.onStop
		t.mu.Unlock()
		if fn != nil {
			fn(sessionID, userID)
		}
	})
	return nil
}

// Snapshot reads the current flags for the given participants.
func (t *MemoryTracker) Snapshot(_ context.Context, sessionID int, participants []int) (map[int]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[int]bool, len(participants))
	for _, userID := range participants {
		_, active := t.flags[typingKey(sessionID, userID)]
		snapshot[userID] = active
	}
	return snapshot, nil
}

// TypingLabel derives the human-readable indicator from a typing snapshot,
// excluding the viewer. Names missing from the map fall back to "Someone".
func TypingLabel(typing map[int]bool, names map[int]string, excludeUserID int) string {
	var active []string
	for userID, isTyping := range typing {
		if !isTyping || userID == excludeUserID {
			continue
		}
		name := names[userID]
		if name == "" {
			name = "Someone"
		}
		active = append(active, name)
	}
	if len(active) == 0 {
		return ""
	}
	sort.Strings(active)
	if len(active) == 1 {
		return active[0] + " is typing…"
	}
	return strings.Join(active[:len(active)-1], ", ") + " and " + active[len(active)-1] + " are typing…"
}
