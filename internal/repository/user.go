package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/glimmerapp/glimmer/internal/dbx"
	"github.com/glimmerapp/glimmer/internal/model"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientCredit = errors.New("insufficient credits")
)

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User, signupCredits int) error
	ByID(ctx context.Context, id string) (*model.User, error)
	ReserveCredit(ctx context.Context, q dbx.DBTX, userID string) error
	AddCredits(ctx context.Context, q dbx.DBTX, userID string, amount int) error
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Upsert creates the user row on first sight, granting the signup credits,
// and refreshes identity fields on every later call. The balance is never
// touched on update.
func (r *userRepository) Upsert(ctx context.Context, user *model.User, signupCredits int) error {
	query := `INSERT INTO users (id, email, name, is_admin, credits, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $6)
	          ON CONFLICT (id) DO UPDATE SET
	              email = excluded.email,
	              name = excluded.name,
	              is_admin = excluded.is_admin,
	              updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.IsAdmin,
		signupCredits,
		time.Now().UTC(),
	)
	return err
}

func (r *userRepository) ByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT * FROM users WHERE id = $1`

	err := r.db.GetContext(ctx, user, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// ReserveCredit atomically takes one credit from the balance. The
// conditional WHERE is the whole concurrency story: two concurrent uploads
// racing for the last credit resolve to exactly one winner.
func (r *userRepository) ReserveCredit(ctx context.Context, q dbx.DBTX, userID string) error {
	query := `UPDATE users SET credits = credits - 1, updated_at = $2 WHERE id = $1 AND credits >= 1`

	res, err := q.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientCredit
	}
	return nil
}

func (r *userRepository) AddCredits(ctx context.Context, q dbx.DBTX, userID string, amount int) error {
	query := `UPDATE users SET credits = credits + $2, updated_at = $3 WHERE id = $1`

	res, err := q.ExecContext(ctx, query, userID, amount, time.Now().UTC())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
