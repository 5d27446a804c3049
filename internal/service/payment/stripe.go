package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/service"
)

type StripeProvider struct {
	cfg            *config.Config
	billingService *service.BillingService
}

func NewStripeProvider(cfg *config.Config, billingService *service.BillingService) *StripeProvider {
	// Set Stripe API key
	stripe.Key = cfg.StripeSecretKey

	slog.Info("stripe provider initialized", "app_env", cfg.AppEnv)

	return &StripeProvider{
		cfg:            cfg,
		billingService: billingService,
	}
}

func (s *StripeProvider) Name() string {
	return model.ProviderStripe
}

func (s *StripeProvider) CreateCheckout(ctx context.Context, user *model.User, packID string) (*model.CheckoutSession, error) {
	checkout, err := s.billingService.NewSession(user.ID, packID, model.ProviderStripe)
	if err != nil {
		return nil, err
	}

	priceID := s.getStripePriceID(packID)
	if priceID == "" {
		return nil, fmt.Errorf("no price configured for pack: %s", packID)
	}

	successURL := fmt.Sprintf("%s/app/billing?session_id={CHECKOUT_SESSION_ID}", s.cfg.AppURL)
	cancelURL := fmt.Sprintf("%s/app/billing", s.cfg.AppURL)

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		CustomerEmail: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id":             user.ID,
			"checkout_session_id": checkout.ID,
			"pack_id":             packID,
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	checkout.ProviderCheckoutID = &sess.ID
	checkout.RedirectURL = &sess.URL

	err = s.billingService.SaveSession(ctx, checkout)
	if err != nil {
		return nil, err
	}

	slog.Info("stripe checkout created", "user_id", user.ID, "pack_id", packID, "session_id", sess.ID)
	return checkout, nil
}

func (s *StripeProvider) HandleWebhook(payload []byte, headers http.Header) error {
	signature := headers.Get("Stripe-Signature")

	// Use ConstructEventWithOptions to ignore API version mismatch
	// Stripe's API versions are backwards compatible, so this is safe
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	slog.Info("stripe webhook received", "event_type", event.Type)

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(event.Data.Raw)
	case "checkout.session.expired":
		return s.handleCheckoutSessionExpired(event.Data.Raw)
	default:
		slog.Warn("stripe webhook unknown event type", "event_type", event.Type)
		return nil
	}
}

func (s *StripeProvider) handleCheckoutSessionCompleted(data json.RawMessage) error {
	var session struct {
		ID            string            `json:"id"`
		PaymentStatus string            `json:"payment_status"`
		Metadata      map[string]string `json:"metadata"`
	}

	err := json.Unmarshal(data, &session)
	if err != nil {
		return fmt.Errorf("failed to parse checkout session data: %w", err)
	}

	if session.PaymentStatus != "paid" {
		slog.Info("stripe checkout completed but not paid, skipping", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	userID := session.Metadata["user_id"]
	packID := session.Metadata["pack_id"]

	if userID == "" {
		slog.Warn("stripe webhook no user_id in session metadata, skipping")
		return nil
	}

	pack, ok := model.CreditPacks[packID]
	if !ok {
		return fmt.Errorf("unknown pack in session metadata: %s", packID)
	}

	// The checkout session id doubles as the order id: Stripe sends exactly
	// one session per payment, and redeliveries carry the same id.
	return s.billingService.CompletePaidOrder(context.Background(), session.ID, session.ID, userID, pack.Credits)
}

func (s *StripeProvider) handleCheckoutSessionExpired(data json.RawMessage) error {
	var session struct {
		ID string `json:"id"`
	}

	err := json.Unmarshal(data, &session)
	if err != nil {
		return fmt.Errorf("failed to parse checkout session data: %w", err)
	}

	s.billingService.FailCheckout(context.Background(), session.ID, "checkout expired")
	return nil
}

func (s *StripeProvider) getStripePriceID(packID string) string {
	switch packID {
	case model.PackStarter:
		return s.cfg.StripePriceIDStarter
	case model.PackStandard:
		return s.cfg.StripePriceIDStandard
	case model.PackStudio:
		return s.cfg.StripePriceIDStudio
	default:
		return ""
	}
}
