package models

import "time"

// ChatSession is the single conversation container for a canonical user
// pair. User1ID is always the smaller id, so the pair {a,b} maps to exactly
// one row no matter who opened the session.
type ChatSession struct {
	ID                  int        `db:"id" json:"id"`
	User1ID             int        `db:"user1_id" json:"user1_id"`
	User2ID             int        `db:"user2_id" json:"user2_id"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	LastMessageAt       *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	LastMessageText     string     `db:"last_message_text" json:"-"`
	LastMessageSenderID *int       `db:"last_message_sender_id" json:"last_message_sender_id,omitempty"`
}

// OrderedPair puts an unordered user pair into canonical ascending order.
// Session rows and connection pair keys both store pairs this way, so (A,B)
// and (B,A) address the same row.
func OrderedPair(a, b int) (int, int) {
	if b < a {
		return b, a
	}
	return a, b
}

// IsParticipant reports whether the user belongs to the session.
func (s ChatSession) IsParticipant(userID int) bool {
	return s.User1ID == userID || s.User2ID == userID
}

// PeerOf returns the other participant of the session.
func (s ChatSession) PeerOf(userID int) int {
	if s.User1ID == userID {
		return s.User2ID
	}
	return s.User1ID
}

// SessionSummary is the denormalized per-session view pushed to subscribers
// and returned by the summary endpoint. LastMessageText is already decrypted
// for display.
type SessionSummary struct {
	SessionID           int          `json:"session_id"`
	LastMessageAt       *time.Time   `json:"last_message_at,omitempty"`
	LastMessageText     string       `json:"last_message_text"`
	LastMessageSenderID *int         `json:"last_message_sender_id,omitempty"`
	Typing              map[int]bool `json:"typing"`
	TypingLabel         string       `json:"typing_label,omitempty"`
}

// Pin marks a message as pinned within its session. The set is capped
// server-side; see repositories.MaxPinnedMessages.
type Pin struct {
	SessionID int       `db:"session_id" json:"session_id"`
	MessageID int       `db:"message_id" json:"message_id"`
	PinnedAt  time.Time `db:"pinned_at" json:"pinned_at"`
}
