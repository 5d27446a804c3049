package payment

import (
	"context"
	"net/http"

	"github.com/glimmerapp/glimmer/internal/model"
)

// Provider defines the interface that all payment providers must implement
type Provider interface {
	// CreateCheckout starts a credit-pack purchase and returns the persisted
	// checkout session, including the provider redirect details
	CreateCheckout(ctx context.Context, user *model.User, packID string) (*model.CheckoutSession, error)

	// HandleWebhook processes webhook events from the payment provider
	HandleWebhook(payload []byte, headers http.Header) error

	// Name returns the provider name (e.g., "polar", "stripe")
	Name() string
}
