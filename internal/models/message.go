package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReplyUnavailableText is rendered for reply blocks whose original message
// was deleted or never denormalized.
const ReplyUnavailableText = "[Original message not available]"

// Attachment holds metadata for an uploaded file. Binary storage is
// external; only the descriptor travels with the message.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// AttachmentList stores attachments as a JSONB column.
type AttachmentList []Attachment

func (a AttachmentList) Value() (driver.Value, error) {
	if len(a) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *AttachmentList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("attachments: cannot scan %T", src)
	}
}

// Message is one entry in a session's append-only log. Content is ciphertext
// at rest; only Reactions and ReadBy mutate after creation.
type Message struct {
	ID              int            `db:"id" json:"id"`
	SessionID       int            `db:"session_id" json:"session_id"`
	SenderID        int            `db:"sender_id" json:"sender_id"`
	Content         string         `db:"content" json:"-"`
	Attachments     AttachmentList `db:"attachments" json:"attachments"`
	ReplyToID       *int           `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ReplyToSenderID *int           `db:"reply_to_sender_id" json:"reply_to_sender_id,omitempty"`
	ReplyToPreview  *string        `db:"reply_to_preview" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`

	Reactions map[string][]int `db:"-" json:"reactions"`
	ReadBy    []int            `db:"-" json:"read_by"`
}

// ReplyView is the denormalized reply block rendered with a message.
type ReplyView struct {
	MessageID int    `json:"message_id"`
	SenderID  *int   `json:"sender_id,omitempty"`
	Preview   string `json:"preview"`
}

// MessageView is a message prepared for delivery: text decrypted, reply
// preview resolved.
type MessageView struct {
	ID          int              `json:"id"`
	SessionID   int              `json:"session_id"`
	SenderID    int              `json:"sender_id"`
	Text        string           `json:"text"`
	Attachments []Attachment     `json:"attachments"`
	ReplyTo     *ReplyView       `json:"reply_to,omitempty"`
	Reactions   map[string][]int `json:"reactions"`
	ReadBy      []int            `json:"read_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Event types delivered over session websockets.
const (
	EventMessages = "messages"
	EventSession  = "session"
)

// SessionEvent is the websocket frame. Fan-out always carries the full
// current snapshot, never a diff: a reconnecting viewer simply re-receives
// everything it needs to render.
type SessionEvent struct {
	Type     string          `json:"type"`
	Messages []MessageView   `json:"messages,omitempty"`
	Summary  *SessionSummary `json:"summary,omitempty"`
}
