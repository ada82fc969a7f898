package models

import (
	"fmt"
	"time"
)

// Connection statuses. Rejection has no terminal state: rejecting a pending
// request deletes the row, so the requester may immediately re-request.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
)

// Connection is a contact relationship between two users, requested by one
// side and accepted by the other.
type Connection struct {
	ID          int        `db:"id" json:"id"`
	RequesterID int        `db:"requester_id" json:"requester_id"`
	ReceiverID  int        `db:"receiver_id" json:"receiver_id"`
	Status      string     `db:"status" json:"status"`
	PairKey     string     `db:"pair_key" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	AcceptedAt  *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
}

// IsParticipant reports whether the user is either side of the connection.
func (c Connection) IsParticipant(userID int) bool {
	return c.RequesterID == userID || c.ReceiverID == userID
}

// PairKey derives the canonical key for an unordered user pair. The unique
// index on this key guarantees at most one connection per pair regardless of
// request direction.
func PairKey(a, b int) string {
	a, b = OrderedPair(a, b)
	return fmt.Sprintf("%d:%d", a, b)
}
