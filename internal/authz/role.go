// Package authz centralizes the actor-role checks that gate message and
// session operations, instead of scattering sender/participant comparisons
// through every handler.
package authz

// Role is the actor's relationship to a message or session.
type Role int

const (
	// RoleNone: the actor is a stranger to the resource.
	RoleNone Role = iota
	// RoleParticipant: the actor belongs to the session but did not author
	// the message in question.
	RoleParticipant
	// RoleSender: the actor authored the message. Senders are always
	// participants as well.
	RoleSender
)

// ForSession classifies the actor against a session's participant pair.
func ForSession(userID, user1ID, user2ID int) Role {
	if userID == user1ID || userID == user2ID {
		return RoleParticipant
	}
	return RoleNone
}

// ForMessage classifies the actor against a message within its session.
func ForMessage(userID, senderID, user1ID, user2ID int) Role {
	if userID == senderID {
		return RoleSender
	}
	return ForSession(userID, user1ID, user2ID)
}

// CanReact and friends express the per-operation policy in one place.
// Any participant may react or mark read; only the sender may delete.
func (r Role) CanReact() bool  { return r >= RoleParticipant }
func (r Role) CanRead() bool   { return r >= RoleParticipant }
func (r Role) CanDelete() bool { return r == RoleSender }
