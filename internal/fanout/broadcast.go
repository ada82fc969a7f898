package fanout

import (
	"context"
	"log"

	"dm-service/internal/models"
	"dm-service/internal/presence"
	"dm-service/internal/repositories"
	"dm-service/internal/security"
)

// Broadcaster assembles delivery-ready snapshots and pushes them through
// the hub. Snapshots are rebuilt from the store on every change, so
// subscribers always see the full ordered state rather than a diff.
type Broadcaster struct {
	hub         *Hub
	bridge      Bridge
	sessionRepo repositories.SessionRepository
	messageRepo repositories.MessageRepository
	presence    presence.Tracker
	codec       *security.Codec
}

// NewBroadcaster builds a Broadcaster. The bridge is attached separately
// because its inbound callback needs the broadcaster itself.
func NewBroadcaster(hub *Hub, sessionRepo repositories.SessionRepository, messageRepo repositories.MessageRepository, tracker presence.Tracker, codec *security.Codec) *Broadcaster {
	return &Broadcaster{
		hub:         hub,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		presence:    tracker,
		codec:       codec,
	}
}

// SetBridge attaches the cross-instance bridge.
func (b *Broadcaster) SetBridge(bridge Bridge) {
	b.bridge = bridge
}

// MessageViews loads and prepares the full ordered message log of a session.
func (b *Broadcaster) MessageViews(ctx context.Context, sessionID int) ([]models.MessageView, error) {
	msgs, err := b.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, b.View(m))
	}
	return views, nil
}

// View prepares one message for display: text decrypted, reply preview
// resolved. A reply whose target was never snapshotted renders as
// unavailable.
func (b *Broadcaster) View(m models.Message) models.MessageView {
	v := models.MessageView{
		ID:          m.ID,
		SessionID:   m.SessionID,
		SenderID:    m.SenderID,
		Text:        b.codec.Decrypt(m.Content),
		Attachments: m.Attachments,
		Reactions:   m.Reactions,
		ReadBy:      m.ReadBy,
		CreatedAt:   m.CreatedAt,
	}
	if m.ReplyToID != nil {
		reply := &models.ReplyView{MessageID: *m.ReplyToID, SenderID: m.ReplyToSenderID}
		if m.ReplyToPreview != nil {
			reply.Preview = b.codec.Decrypt(*m.ReplyToPreview)
		} else {
			reply.Preview = models.ReplyUnavailableText
		}
		v.ReplyTo = reply
	}
	return v
}

// Summary builds the session summary for the given session row. Typing
// flags are read best-effort: presence store failures degrade to an empty
// map rather than failing the summary.
func (b *Broadcaster) Summary(ctx context.Context, session models.ChatSession) models.SessionSummary {
	typing, err := b.presence.Snapshot(ctx, session.ID, []int{session.User1ID, session.User2ID})
	if err != nil {
		log.Printf("typing snapshot for session %d: %v", session.ID, err)
		typing = map[int]bool{}
	}

	return models.SessionSummary{
		SessionID:           session.ID,
		LastMessageAt:       session.LastMessageAt,
		LastMessageText:     b.codec.Decrypt(session.LastMessageText),
		LastMessageSenderID: session.LastMessageSenderID,
		Typing:              typing,
	}
}

// MessagesChanged pushes a fresh message snapshot to local subscribers and
// tells other instances to do the same.
func (b *Broadcaster) MessagesChanged(ctx context.Context, sessionID int) {
	b.publishMessages(ctx, sessionID)
	if b.bridge != nil {
		b.bridge.Notify(sessionID, ChangeMessages)
	}
}

// SessionChanged pushes a fresh session summary to local subscribers and
// tells other instances to do the same.
func (b *Broadcaster) SessionChanged(ctx context.Context, sessionID int) {
	b.publishSession(ctx, sessionID)
	if b.bridge != nil {
		b.bridge.Notify(sessionID, ChangeSession)
	}
}

// ApplyRemote handles a change note from another instance: reload from the
// shared store and publish locally, without notifying the bridge again.
func (b *Broadcaster) ApplyRemote(sessionID int, kind string) {
	ctx := context.Background()
	switch kind {
	case ChangeMessages:
		b.publishMessages(ctx, sessionID)
	case ChangeSession:
		b.publishSession(ctx, sessionID)
	default:
		log.Printf("unknown change kind %q for session %d", kind, sessionID)
	}
}

func (b *Broadcaster) publishMessages(ctx context.Context, sessionID int) {
	views, err := b.MessageViews(ctx, sessionID)
	if err != nil {
		log.Printf("message snapshot for session %d: %v", sessionID, err)
		return
	}
	b.hub.PublishMessages(sessionID, views)
}

func (b *Broadcaster) publishSession(ctx context.Context, sessionID int) {
	session, err := b.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		log.Printf("session %d reload: %v", sessionID, err)
		return
	}
	b.hub.PublishSession(sessionID, b.Summary(ctx, session))
}
