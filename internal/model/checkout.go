package model

import (
	"time"
)

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusFailed    = "failed"
)

const (
	ProviderPolar  = "polar"
	ProviderStripe = "stripe"
)

// CheckoutSession tracks a single credit-pack purchase with the payment
// provider. Created pending, completed or failed exactly once by the
// provider webhook, polled by the client in between.
type CheckoutSession struct {
	ID                 string    `db:"id"`
	UserID             string    `db:"user_id"`
	PackID             string    `db:"pack_id"`
	Credits            int       `db:"credits"`
	Status             string    `db:"status"`
	Provider           string    `db:"provider"`
	ProviderCheckoutID *string   `db:"provider_checkout_id"`
	ClientSecret       *string   `db:"client_secret"`
	RedirectURL        *string   `db:"redirect_url"`
	Error              *string   `db:"error"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// CreditOrder is the idempotency record for a paid provider order. The
// primary key on OrderID guarantees a duplicate webhook delivery can never
// credit a balance twice.
type CreditOrder struct {
	OrderID   string    `db:"order_id"`
	UserID    string    `db:"user_id"`
	Credits   int       `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
}

// CreditPack is a purchasable bundle of credits.
type CreditPack struct {
	ID      string
	Credits int
}

const (
	PackStarter  = "starter"
	PackStandard = "standard"
	PackStudio   = "studio"
)

// CreditPacks enumerates the purchasable bundles. Provider product/price ids
// are mapped in config.
var CreditPacks = map[string]CreditPack{
	PackStarter:  {ID: PackStarter, Credits: 10},
	PackStandard: {ID: PackStandard, Credits: 50},
	PackStudio:   {ID: PackStudio, Credits: 200},
}
