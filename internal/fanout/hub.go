// Package fanout pushes state changes to every active subscriber of a
// session. Delivery is always the full current snapshot, not a diff: there
// is no resumable cursor, and a reconnecting subscriber simply re-receives
// everything. That is a deliberate simplicity trade-off for two-party chats.
package fanout

import (
	"sync"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// MessageCallback receives the full ordered message log of a session.
type MessageCallback func(messages []models.MessageView)

// SessionCallback receives the session summary, typing map included.
type SessionCallback func(summary models.SessionSummary)

// Hub maintains the in-process subscriber registry.
type Hub struct {
	mu          sync.RWMutex
	nextID      int
	messageSubs map[int]map[int]MessageCallback
	sessionSubs map[int]map[int]SessionCallback
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		messageSubs: make(map[int]map[int]MessageCallback),
		sessionSubs: make(map[int]map[int]SessionCallback),
	}
}

// SubscribeMessages registers a callback for message-log changes of a
// session. The returned function removes the subscription; calling it more
// than once is harmless.
func (h *Hub) SubscribeMessages(sessionID int, cb MessageCallback) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.messageSubs[sessionID]; !ok {
		h.messageSubs[sessionID] = make(map[int]MessageCallback)
	}
	h.nextID++
	id := h.nextID
	h.messageSubs[sessionID][id] = cb

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.messageSubs[sessionID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.messageSubs, sessionID)
			}
		}
	}
}

// SubscribeSession registers a callback for session-document changes.
func (h *Hub) SubscribeSession(sessionID int, cb SessionCallback) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessionSubs[sessionID]; !ok {
		h.sessionSubs[sessionID] = make(map[int]SessionCallback)
	}
	h.nextID++
	id := h.nextID
	h.sessionSubs[sessionID][id] = cb

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.sessionSubs[sessionID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.sessionSubs, sessionID)
			}
		}
	}
}

// PublishMessages delivers the ordered snapshot to all message subscribers
// of the session.
func (h *Hub) PublishMessages(sessionID int, messages []models.MessageView) {
	h.mu.RLock()
	callbacks := make([]MessageCallback, 0, len(h.messageSubs[sessionID]))
	for _, cb := range h.messageSubs[sessionID] {
		callbacks = append(callbacks, cb)
	}
	h.mu.RUnlock()

	for _, cb := range callbacks {
		cb(messages)
		observability.IncFanoutDelivery("messages")
	}
}

// PublishSession delivers the summary to all session subscribers.
func (h *Hub) PublishSession(sessionID int, summary models.SessionSummary) {
	h.mu.RLock()
	callbacks := make([]SessionCallback, 0, len(h.sessionSubs[sessionID]))
	for _, cb := range h.sessionSubs[sessionID] {
		callbacks = append(callbacks, cb)
	}
	h.mu.RUnlock()

	for _, cb := range callbacks {
		cb(summary)
		observability.IncFanoutDelivery("session")
	}
}

// SubscriberCounts reports active subscriptions, for the debug endpoint.
func (h *Hub) SubscriberCounts(sessionID int) (messages, sessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messageSubs[sessionID]), len(h.sessionSubs[sessionID])
}
