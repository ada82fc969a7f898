package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dm-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserDirectory resolves platform identities. The users table is owned by
// the identity service; this repository only reads it.
type UserDirectory interface {
	ByEmail(ctx context.Context, email string) (models.User, error)
	ByIDs(ctx context.Context, ids []int) ([]models.User, error)
}

// UserDirectoryRepo is a sqlx implementation of UserDirectory.
type UserDirectoryRepo struct {
	db *sqlx.DB
}

// NewUserDirectoryRepo constructs a UserDirectoryRepo.
func NewUserDirectoryRepo(db *sqlx.DB) *UserDirectoryRepo {
	return &UserDirectoryRepo{db: db}
}

// ByEmail resolves a connection-request identifier to a user.
func (r *UserDirectoryRepo) ByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, email, display_name, avatar_url FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ByIDs fetches multiple users in one query. Missing ids are skipped.
func (r *UserDirectoryRepo) ByIDs(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, email, display_name, avatar_url FROM users WHERE id = ANY($1)`,
		pq.Array(ids))
	return users, err
}
