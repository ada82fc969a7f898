package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dm-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message has no text and no attachments")
)

// CreateMessageParams carries the immutable fields of a new message.
// Content is already masked and encrypted by the caller.
type CreateMessageParams struct {
	SessionID       int
	SenderID        int
	Content         string
	Attachments     models.AttachmentList
	ReplyToID       *int
	ReplyToSenderID *int
	ReplyToPreview  *string
}

// MessageRepository defines interactions for the per-session message log.
type MessageRepository interface {
	Create(ctx context.Context, params CreateMessageParams) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListBySession(ctx context.Context, sessionID int) ([]models.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID int, symbol string) error
	MarkRead(ctx context.Context, messageID, userID int) error
	Delete(ctx context.Context, messageID, senderID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, session_id, sender_id, content, attachments,
    reply_to_id, reply_to_sender_id, reply_to_preview, created_at`

// Create appends a message with a server-assigned timestamp and records the
// sender's own read receipt in the same transaction.
func (r *MessageRepo) Create(ctx context.Context, params CreateMessageParams) (models.Message, error) {
	if params.Content == "" && len(params.Attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (session_id, sender_id, content, attachments, reply_to_id, reply_to_sender_id, reply_to_preview)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING `+messageColumns,
		params.SessionID, params.SenderID, params.Content, params.Attachments,
		params.ReplyToID, params.ReplyToSenderID, params.ReplyToPreview).StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`,
		msg.ID, params.SenderID); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}

	msg.Reactions = map[string][]int{}
	msg.ReadBy = []int{params.SenderID}
	return msg, nil
}

// Get retrieves a single message with its reactions and read receipts.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	msgs := []models.Message{msg}
	if err := r.loadMutableSets(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListBySession returns the full ordered log for a session. Ordering is by
// server timestamp with the id as tiebreak, so concurrent sends from two
// clients interleave deterministically for every viewer.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE session_id=$1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	if err := r.loadMutableSets(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// loadMutableSets fills Reactions and ReadBy for the given messages.
func (r *MessageRepo) loadMutableSets(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(msgs))
	byID := make(map[int]*models.Message, len(msgs))
	for i := range msgs {
		msgs[i].Reactions = map[string][]int{}
		msgs[i].ReadBy = []int{}
		ids = append(ids, msgs[i].ID)
		byID[msgs[i].ID] = &msgs[i]
	}

	reactionRows, err := r.db.QueryxContext(ctx,
		`SELECT message_id, user_id, symbol FROM message_reactions
         WHERE message_id = ANY($1) ORDER BY message_id, symbol, user_id`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer reactionRows.Close()
	for reactionRows.Next() {
		var messageID, userID int
		var symbol string
		if err := reactionRows.Scan(&messageID, &userID, &symbol); err != nil {
			return err
		}
		if msg, ok := byID[messageID]; ok {
			msg.Reactions[symbol] = append(msg.Reactions[symbol], userID)
		}
	}
	if err := reactionRows.Err(); err != nil {
		return err
	}

	readRows, err := r.db.QueryxContext(ctx,
		`SELECT message_id, user_id FROM message_reads
         WHERE message_id = ANY($1) ORDER BY message_id, user_id`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer readRows.Close()
	for readRows.Next() {
		var messageID, userID int
		if err := readRows.Scan(&messageID, &userID); err != nil {
			return err
		}
		if msg, ok := byID[messageID]; ok {
			msg.ReadBy = append(msg.ReadBy, userID)
		}
	}
	return readRows.Err()
}

// ToggleReaction flips the user's reaction for one symbol. The insert and
// the fallback delete are each atomic, so two rapid toggles serialize at the
// store instead of racing through a read-modify-write.
func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID, userID int, symbol string) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, user_id, symbol) VALUES ($1, $2, $3)
         ON CONFLICT (message_id, user_id, symbol) DO NOTHING`,
		messageID, userID, symbol)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND symbol=$3`,
		messageID, userID, symbol)
	return err
}

// MarkRead adds the user to the message's read set; idempotent.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)
         ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID)
	return err
}

// Delete hard-deletes a message. The sender guard in the WHERE clause keeps
// the operation safe even if a caller skipped the role check. Other
// messages' reply references are left dangling on purpose.
func (r *MessageRepo) Delete(ctx context.Context, messageID, senderID int) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
