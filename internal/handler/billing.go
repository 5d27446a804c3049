package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/glimmerapp/glimmer/internal/ctxkeys"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/service"
	"github.com/glimmerapp/glimmer/internal/service/payment"
)

type BillingHandler struct {
	billingService *service.BillingService
	userService    *service.UserService
	paymentService payment.Provider
}

func NewBillingHandler(billingService *service.BillingService, userService *service.UserService, paymentService payment.Provider) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		userService:    userService,
		paymentService: paymentService,
	}
}

func (h *BillingHandler) Balance(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	credits, err := h.userService.Balance(r.Context(), user.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req struct {
		PackID string `json:"pack_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.PackID == "" {
		respondError(w, http.StatusBadRequest, "Invalid pack selected")
		return
	}

	checkout, err := h.paymentService.CreateCheckout(r.Context(), user, req.PackID)
	if err != nil {
		slog.Error("failed to create checkout", "error", err, "user_id", user.ID, "pack_id", req.PackID, "provider", h.paymentService.Name())
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse(checkout))
}

// Session lets the client poll a checkout until the webhook settles it.
func (h *BillingHandler) Session(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	sess, err := h.billingService.Session(r.Context(), user, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, checkoutResponse(sess))
}

func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read webhook payload", "error", err)
		respondError(w, http.StatusBadRequest, "Failed to read payload")
		return
	}
	defer func() {
		closeErr := r.Body.Close()
		if closeErr != nil {
			slog.Error("failed to close request body", "error", closeErr)
		}
	}()

	err = h.paymentService.HandleWebhook(payload, r.Header)
	if err != nil {
		slog.Error("failed to handle webhook", "error", err, "provider", h.paymentService.Name())
		respondError(w, http.StatusBadRequest, "Failed to process webhook")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func checkoutResponse(sess *model.CheckoutSession) map[string]any {
	resp := map[string]any{
		"id":       sess.ID,
		"pack_id":  sess.PackID,
		"credits":  sess.Credits,
		"status":   sess.Status,
		"provider": sess.Provider,
	}
	if sess.RedirectURL != nil {
		resp["redirect_url"] = *sess.RedirectURL
	}
	if sess.ClientSecret != nil {
		resp["client_secret"] = *sess.ClientSecret
	}
	if sess.Error != nil {
		resp["error"] = *sess.Error
	}
	return resp
}
