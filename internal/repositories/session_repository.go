package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPinLimit        = errors.New("pin limit reached")
)

// MaxPinnedMessages caps the persisted pin set per session.
const MaxPinnedMessages = 3

// SessionRepository abstracts chat-session persistence.
type SessionRepository interface {
	OpenOrCreate(ctx context.Context, userA, userB int) (models.ChatSession, error)
	Get(ctx context.Context, sessionID int) (models.ChatSession, error)
	ListForUser(ctx context.Context, userID int) ([]models.ChatSession, error)
	UpdateLastMessage(ctx context.Context, sessionID int, at time.Time, text string, senderID int) error
	Pin(ctx context.Context, sessionID, messageID int) error
	Unpin(ctx context.Context, sessionID, messageID int) error
	ListPins(ctx context.Context, sessionID int) ([]models.Pin, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, user1_id, user2_id, created_at, last_message_at,
    last_message_text, last_message_sender_id`

// OpenOrCreate returns the one session for the unordered pair, creating it
// on first contact. The pair is canonicalized first, so (A,B) and (B,A)
// resolve to the same row, and the unique constraint plus ON CONFLICT makes
// concurrent first contact converge on a single session.
func (r *SessionRepo) OpenOrCreate(ctx context.Context, userA, userB int) (models.ChatSession, error) {
	if userA == userB {
		return models.ChatSession{}, errors.New("cannot open session with self")
	}
	user1, user2 := models.OrderedPair(userA, userB)

	var session models.ChatSession
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO chat_sessions (user1_id, user2_id) VALUES ($1, $2)
         ON CONFLICT (user1_id, user2_id) DO NOTHING
         RETURNING `+sessionColumns,
		user1, user2).StructScan(&session)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, err
	}

	// Conflict: the session already exists, fetch it.
	err = r.db.GetContext(ctx, &session,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE user1_id=$1 AND user2_id=$2`,
		user1, user2)
	return session, err
}

// Get fetches a session by id.
func (r *SessionRepo) Get(ctx context.Context, sessionID int) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// ListForUser returns the user's sessions, most recently active first.
func (r *SessionRepo) ListForUser(ctx context.Context, userID int) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := r.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM chat_sessions
         WHERE user1_id=$1 OR user2_id=$1
         ORDER BY COALESCE(last_message_at, created_at) DESC`, userID)
	return sessions, err
}

// UpdateLastMessage refreshes the denormalized summary fields. Callers treat
// this as best-effort: the message itself is already appended.
func (r *SessionRepo) UpdateLastMessage(ctx context.Context, sessionID int, at time.Time, text string, senderID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions
         SET last_message_at=$2, last_message_text=$3, last_message_sender_id=$4
         WHERE id=$1`,
		sessionID, at, text, senderID)
	return err
}

// Pin adds a message to the session's pin set. The session row is locked
// for the transaction, serializing concurrent pins so the cap check never
// runs against a stale count. Re-pinning an already pinned message is a
// no-op success.
func (r *SessionRepo) Pin(ctx context.Context, sessionID, messageID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locked int
	err = tx.GetContext(ctx, &locked,
		`SELECT id FROM chat_sessions WHERE id=$1 FOR UPDATE`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO session_pins (session_id, message_id)
         SELECT $1, $2
         WHERE (SELECT COUNT(*) FROM session_pins WHERE session_id=$1) < $3
         ON CONFLICT (session_id, message_id) DO NOTHING`,
		sessionID, messageID, MaxPinnedMessages)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		var pinned bool
		if err := tx.GetContext(ctx, &pinned,
			`SELECT EXISTS(SELECT 1 FROM session_pins WHERE session_id=$1 AND message_id=$2)`,
			sessionID, messageID); err != nil {
			return err
		}
		if !pinned {
			return ErrPinLimit
		}
	}
	return tx.Commit()
}

// Unpin removes a message from the pin set; idempotent.
func (r *SessionRepo) Unpin(ctx context.Context, sessionID, messageID int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM session_pins WHERE session_id=$1 AND message_id=$2`, sessionID, messageID)
	return err
}

// ListPins returns the session's pinned messages, oldest pin first.
func (r *SessionRepo) ListPins(ctx context.Context, sessionID int) ([]models.Pin, error) {
	var pins []models.Pin
	err := r.db.SelectContext(ctx, &pins,
		`SELECT session_id, message_id, pinned_at FROM session_pins
         WHERE session_id=$1 ORDER BY pinned_at ASC`, sessionID)
	return pins, err
}
