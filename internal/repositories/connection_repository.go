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
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("connection already exists for pair")
	ErrSelfRequest        = errors.New("cannot request connection with self")
	ErrNotPending         = errors.New("connection is not pending")
)

const uniqueViolation = "23505"

// ConnectionRepository abstracts connection-request persistence.
type ConnectionRepository interface {
	Request(ctx context.Context, requesterID, receiverID int) (models.Connection, error)
	Get(ctx context.Context, connectionID int) (models.Connection, error)
	GetForPair(ctx context.Context, userA, userB int) (models.Connection, error)
	MarkAccepted(ctx context.Context, connectionID int) (models.Connection, error)
	Delete(ctx context.Context, connectionID int) error
	List(ctx context.Context, userID int, status string) ([]models.Connection, error)
}

// ConnectionRepo is a sqlx implementation of ConnectionRepository.
type ConnectionRepo struct {
	db *sqlx.DB
}

// NewConnectionRepo constructs a ConnectionRepo.
func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

// Request inserts a pending connection. The unique pair_key index enforces
// at most one connection per unordered pair, in either direction and any
// status, so concurrent mutual requests cannot create duplicates.
func (r *ConnectionRepo) Request(ctx context.Context, requesterID, receiverID int) (models.Connection, error) {
	if requesterID == receiverID {
		return models.Connection{}, ErrSelfRequest
	}

	var conn models.Connection
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO connections (requester_id, receiver_id, status, pair_key)
         VALUES ($1, $2, 'pending', $3)
         RETURNING id, requester_id, receiver_id, status, pair_key, created_at, accepted_at`,
		requesterID, receiverID, models.PairKey(requesterID, receiverID)).StructScan(&conn)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return models.Connection{}, ErrConnectionExists
		}
		return models.Connection{}, err
	}
	return conn, nil
}

// Get fetches a connection by id.
func (r *ConnectionRepo) Get(ctx context.Context, connectionID int) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn,
		`SELECT id, requester_id, receiver_id, status, pair_key, created_at, accepted_at
         FROM connections WHERE id=$1`, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}

// GetForPair fetches the connection for an unordered pair regardless of who
// requested it.
func (r *ConnectionRepo) GetForPair(ctx context.Context, userA, userB int) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn,
		`SELECT id, requester_id, receiver_id, status, pair_key, created_at, accepted_at
         FROM connections WHERE pair_key=$1`, models.PairKey(userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}

// MarkAccepted transitions pending -> accepted and stamps accepted_at. The
// WHERE clause makes the transition race-safe: a row changed by a concurrent
// accept or reject no longer matches.
func (r *ConnectionRepo) MarkAccepted(ctx context.Context, connectionID int) (models.Connection, error) {
	var conn models.Connection
	err := r.db.QueryRowxContext(ctx,
		`UPDATE connections SET status='accepted', accepted_at=NOW()
         WHERE id=$1 AND status='pending'
         RETURNING id, requester_id, receiver_id, status, pair_key, created_at, accepted_at`,
		connectionID).StructScan(&conn)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrNotPending
	}
	return conn, err
}

// Delete removes a connection row. Deleting an absent row is a no-op
// success, which makes reject/cancel idempotent.
func (r *ConnectionRepo) Delete(ctx context.Context, connectionID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id=$1`, connectionID)
	return err
}

// List returns connections involving the user, optionally filtered by status.
func (r *ConnectionRepo) List(ctx context.Context, userID int, status string) ([]models.Connection, error) {
	query := `SELECT id, requester_id, receiver_id, status, pair_key, created_at, accepted_at
        FROM connections WHERE (requester_id=$1 OR receiver_id=$1)`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	var conns []models.Connection
	err := r.db.SelectContext(ctx, &conns, query, args...)
	return conns, err
}
