package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/glimmerapp/glimmer/internal/dbx"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
)

// BillingService tracks credit-pack checkout sessions and applies paid
// orders to balances. Payment providers call into it from their webhook
// handlers.
type BillingService struct {
	db        *sqlx.DB
	checkouts repository.CheckoutRepository
	users     repository.UserRepository
	email     *EmailService
}

func NewBillingService(db *sqlx.DB, checkouts repository.CheckoutRepository, users repository.UserRepository, email *EmailService) *BillingService {
	return &BillingService{db: db, checkouts: checkouts, users: users, email: email}
}

// NewSession builds a pending checkout session for a credit pack. The
// provider fills in its checkout id and redirect details before SaveSession.
func (s *BillingService) NewSession(userID, packID, provider string) (*model.CheckoutSession, error) {
	pack, ok := model.CreditPacks[packID]
	if !ok {
		return nil, Invalidf("unknown credit pack: %s", packID)
	}

	now := time.Now().UTC()
	return &model.CheckoutSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		PackID:    pack.ID,
		Credits:   pack.Credits,
		Status:    model.CheckoutStatusPending,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *BillingService) SaveSession(ctx context.Context, sess *model.CheckoutSession) error {
	err := s.checkouts.Create(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to save checkout session: %w", err)
	}
	return nil
}

// Session returns a checkout session for polling. Callers only see their
// own sessions.
func (s *BillingService) Session(ctx context.Context, caller *model.User, id string) (*model.CheckoutSession, error) {
	sess, err := s.checkouts.ByID(ctx, id)
	if errors.Is(err, repository.ErrCheckoutNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}

	if caller == nil || (sess.UserID != caller.ID && !caller.IsAdmin) {
		return nil, ErrNotAuthorized
	}
	return sess, nil
}

// CompletePaidOrder credits a user for a paid provider order. The order id
// is the idempotency key: crediting and the order record commit in one
// transaction, so a redelivered webhook finds the record and changes
// nothing.
func (s *BillingService) CompletePaidOrder(ctx context.Context, orderID, providerCheckoutID, userID string, credits int) error {
	applied := false
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		inserted, err := s.checkouts.InsertOrder(ctx, tx, &model.CreditOrder{
			OrderID:   orderID,
			UserID:    userID,
			Credits:   credits,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		applied = true
		return s.users.AddCredits(ctx, tx, userID, credits)
	})
	if err != nil {
		return fmt.Errorf("failed to apply paid order: %w", err)
	}

	if !applied {
		slog.Info("duplicate order delivery ignored", "order_id", orderID, "user_id", userID)
		return nil
	}

	s.markSessionByProviderID(ctx, providerCheckoutID, model.CheckoutStatusCompleted, nil)

	user, err := s.users.ByID(ctx, userID)
	if err == nil {
		if err := s.email.SendPurchaseReceipt(user.Email, user.Name, credits); err != nil {
			slog.Error("failed to send purchase receipt", "user_id", userID, "error", err)
		}
	}

	slog.Info("order credited", "order_id", orderID, "user_id", userID, "credits", credits)
	return nil
}

// FailCheckout marks the session for a provider checkout as failed so the
// client's polling can stop.
func (s *BillingService) FailCheckout(ctx context.Context, providerCheckoutID, reason string) {
	var errText *string
	if reason != "" {
		errText = &reason
	}
	s.markSessionByProviderID(ctx, providerCheckoutID, model.CheckoutStatusFailed, errText)
}

func (s *BillingService) markSessionByProviderID(ctx context.Context, providerCheckoutID, status string, errText *string) {
	if providerCheckoutID == "" {
		return
	}

	sess, err := s.checkouts.ByProviderCheckoutID(ctx, providerCheckoutID)
	if errors.Is(err, repository.ErrCheckoutNotFound) {
		slog.Warn("no checkout session for provider checkout", "provider_checkout_id", providerCheckoutID)
		return
	}
	if err != nil {
		slog.Error("failed to load checkout session", "provider_checkout_id", providerCheckoutID, "error", err)
		return
	}

	if err := s.checkouts.SetStatus(ctx, sess.ID, status, errText); err != nil {
		slog.Error("failed to update checkout session", "checkout_session_id", sess.ID, "error", err)
	}
}
