package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	polargo "github.com/polarsource/polar-go"
	"github.com/polarsource/polar-go/models/components"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/service"
)

type PolarProvider struct {
	cfg            *config.Config
	billingService *service.BillingService
	client         *polargo.Polar
}

func NewPolarProvider(cfg *config.Config, billingService *service.BillingService) *PolarProvider {
	var serverOption polargo.SDKOption
	if cfg.PolarSandboxMode {
		serverOption = polargo.WithServer(polargo.ServerSandbox)
		slog.Info("polar using sandbox mode", "app_env", cfg.AppEnv)
	} else {
		serverOption = polargo.WithServer(polargo.ServerProduction)
		slog.Info("polar using production mode", "app_env", cfg.AppEnv)
	}

	client := polargo.New(
		polargo.WithSecurity(cfg.PolarAPIKey),
		serverOption,
	)

	return &PolarProvider{
		cfg:            cfg,
		billingService: billingService,
		client:         client,
	}
}

func (p *PolarProvider) Name() string {
	return model.ProviderPolar
}

func (p *PolarProvider) CreateCheckout(ctx context.Context, user *model.User, packID string) (*model.CheckoutSession, error) {
	checkout, err := p.billingService.NewSession(user.ID, packID, model.ProviderPolar)
	if err != nil {
		return nil, err
	}

	productID := p.getPolarProductID(packID)
	if productID == "" {
		return nil, fmt.Errorf("no product configured for pack: %s", packID)
	}

	successURL := fmt.Sprintf("%s/app/billing", p.cfg.AppURL)

	metadata := map[string]components.CheckoutCreateMetadata{
		"user_id":             components.CreateCheckoutCreateMetadataStr(user.ID),
		"checkout_session_id": components.CreateCheckoutCreateMetadataStr(checkout.ID),
		"pack_id":             components.CreateCheckoutCreateMetadataStr(packID),
	}

	res, err := p.client.Checkouts.Create(ctx, components.CheckoutCreate{
		Products:           []string{productID},
		SuccessURL:         polargo.String(successURL),
		CustomerEmail:      polargo.String(user.Email),
		CustomerName:       polargo.String(user.Name),
		AllowDiscountCodes: polargo.Bool(true),
		Metadata:           metadata,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	if res == nil || res.Checkout == nil {
		return nil, fmt.Errorf("checkout response is nil")
	}

	checkout.ProviderCheckoutID = &res.Checkout.ID
	checkout.RedirectURL = &res.Checkout.URL
	checkout.ClientSecret = &res.Checkout.ClientSecret

	err = p.billingService.SaveSession(ctx, checkout)
	if err != nil {
		return nil, err
	}

	slog.Info("polar checkout created", "user_id", user.ID, "pack_id", packID, "checkout_id", res.Checkout.ID)
	return checkout, nil
}

func (p *PolarProvider) HandleWebhook(payload []byte, headers http.Header) error {
	webhookID := headers.Get("webhook-id")
	timestamp := headers.Get("webhook-timestamp")
	signature := headers.Get("webhook-signature")

	if p.cfg.PolarWebhookSecret == "" {
		slog.Warn("polar no webhook secret configured, skipping signature verification")
	} else {
		wh, err := standardwebhooks.NewWebhookRaw([]byte(p.cfg.PolarWebhookSecret))
		if err != nil {
			return fmt.Errorf("failed to create webhook verifier: %w", err)
		}

		httpHeaders := http.Header{}
		httpHeaders.Set("webhook-id", webhookID)
		httpHeaders.Set("webhook-timestamp", timestamp)
		httpHeaders.Set("webhook-signature", signature)

		err = wh.Verify(payload, httpHeaders)
		if err != nil {
			return fmt.Errorf("invalid webhook signature: %w", err)
		}
	}

	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	err := json.Unmarshal(payload, &event)
	if err != nil {
		return fmt.Errorf("failed to parse webhook: %w", err)
	}

	slog.Info("polar webhook received", "event_type", event.Type)

	switch event.Type {
	case "order.paid":
		return p.handleOrderPaid(event.Data)
	case "checkout.updated":
		return p.handleCheckoutUpdated(event.Data)
	default:
		slog.Warn("polar webhook unknown event type", "event_type", event.Type)
		return nil
	}
}

func (p *PolarProvider) handleOrderPaid(data json.RawMessage) error {
	var order struct {
		ID         string            `json:"id"`
		CheckoutID string            `json:"checkout_id"`
		Metadata   map[string]string `json:"metadata"`
	}

	err := json.Unmarshal(data, &order)
	if err != nil {
		return fmt.Errorf("failed to parse order data: %w", err)
	}

	userID := order.Metadata["user_id"]
	packID := order.Metadata["pack_id"]

	if userID == "" {
		slog.Warn("polar webhook no user_id in order metadata, skipping")
		return nil
	}

	pack, ok := model.CreditPacks[packID]
	if !ok {
		return fmt.Errorf("unknown pack in order metadata: %s", packID)
	}

	return p.billingService.CompletePaidOrder(context.Background(), order.ID, order.CheckoutID, userID, pack.Credits)
}

func (p *PolarProvider) handleCheckoutUpdated(data json.RawMessage) error {
	var checkout struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	err := json.Unmarshal(data, &checkout)
	if err != nil {
		return fmt.Errorf("failed to parse checkout data: %w", err)
	}

	switch checkout.Status {
	case "failed", "expired":
		p.billingService.FailCheckout(context.Background(), checkout.ID, "checkout "+checkout.Status)
	}
	return nil
}

func (p *PolarProvider) getPolarProductID(packID string) string {
	switch packID {
	case model.PackStarter:
		return p.cfg.PolarProductIDStarter
	case model.PackStandard:
		return p.cfg.PolarProductIDStandard
	case model.PackStudio:
		return p.cfg.PolarProductIDStudio
	default:
		return ""
	}
}
