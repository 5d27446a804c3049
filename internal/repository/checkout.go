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
	ErrCheckoutNotFound = errors.New("checkout session not found")
)

type CheckoutRepository interface {
	Create(ctx context.Context, sess *model.CheckoutSession) error
	ByID(ctx context.Context, id string) (*model.CheckoutSession, error)
	ByProviderCheckoutID(ctx context.Context, providerCheckoutID string) (*model.CheckoutSession, error)
	SetStatus(ctx context.Context, id, status string, errText *string) error
	InsertOrder(ctx context.Context, q dbx.DBTX, order *model.CreditOrder) (bool, error)
}

type checkoutRepository struct {
	db *sqlx.DB
}

func NewCheckoutRepository(db *sqlx.DB) CheckoutRepository {
	return &checkoutRepository{db: db}
}

func (r *checkoutRepository) Create(ctx context.Context, sess *model.CheckoutSession) error {
	query := `INSERT INTO checkout_sessions (
	              id, user_id, pack_id, credits, status, provider,
	              provider_checkout_id, client_secret, redirect_url, error,
	              created_at, updated_at
	          ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		sess.ID,
		sess.UserID,
		sess.PackID,
		sess.Credits,
		sess.Status,
		sess.Provider,
		sess.ProviderCheckoutID,
		sess.ClientSecret,
		sess.RedirectURL,
		sess.Error,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	return err
}

func (r *checkoutRepository) ByID(ctx context.Context, id string) (*model.CheckoutSession, error) {
	sess := &model.CheckoutSession{}
	query := `SELECT * FROM checkout_sessions WHERE id = $1`

	err := r.db.GetContext(ctx, sess, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}

	return sess, nil
}

func (r *checkoutRepository) ByProviderCheckoutID(ctx context.Context, providerCheckoutID string) (*model.CheckoutSession, error) {
	sess := &model.CheckoutSession{}
	query := `SELECT * FROM checkout_sessions WHERE provider_checkout_id = $1`

	err := r.db.GetContext(ctx, sess, query, providerCheckoutID)
	if err == sql.ErrNoRows {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}

	return sess, nil
}

func (r *checkoutRepository) SetStatus(ctx context.Context, id, status string, errText *string) error {
	query := `UPDATE checkout_sessions SET status = $2, error = $3, updated_at = $4 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status, errText, time.Now().UTC())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCheckoutNotFound
	}
	return nil
}

// InsertOrder records a paid provider order. Returns false when the order id
// was already recorded, which is the signal to skip crediting on a duplicate
// webhook delivery.
func (r *checkoutRepository) InsertOrder(ctx context.Context, q dbx.DBTX, order *model.CreditOrder) (bool, error) {
	query := `INSERT INTO credit_orders (order_id, user_id, credits, created_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (order_id) DO NOTHING`

	res, err := q.ExecContext(ctx, query, order.OrderID, order.UserID, order.Credits, order.CreatedAt)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
