package routes

import (
	"net/http"

	"github.com/glimmerapp/glimmer/internal/app"
	"github.com/glimmerapp/glimmer/internal/handler"
	"github.com/glimmerapp/glimmer/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	health := handler.NewHealthHandler(app.DB)
	images := handler.NewImageHandler(app.ImageService, app.GenerationService, app.Storage, app.Cfg.MaxUploadBytes)
	gallery := handler.NewGalleryHandler(app.ImageService)
	billing := handler.NewBillingHandler(app.BillingService, app.UserService, app.PaymentService)
	admin := handler.NewAdminHandler(app.ImageService)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /api/gallery", gallery.Gallery)
	mux.HandleFunc("GET /api/share/{id}", gallery.Shared)

	// ============================================================================
	// PROTECTED ROUTES
	// ============================================================================

	uploadLimiter := middleware.RateLimitUploads(app.Cfg.UploadRateLimit, app.Cfg.UploadRateWindow)

	// Images
	mux.HandleFunc("POST /api/images", uploadLimiter(middleware.RequireAuth(images.Upload)))
	mux.HandleFunc("GET /api/images", middleware.RequireAuth(images.List))
	mux.HandleFunc("GET /api/images/{id}", middleware.RequireAuth(images.Get))
	mux.HandleFunc("DELETE /api/images/{id}", middleware.RequireAuth(images.Delete))
	mux.HandleFunc("POST /api/images/{id}/retry", middleware.RequireAuth(images.Retry))
	mux.HandleFunc("POST /api/images/{id}/share", middleware.RequireAuth(images.EnableSharing))
	mux.HandleFunc("DELETE /api/images/{id}/share", middleware.RequireAuth(images.DisableSharing))
	mux.HandleFunc("POST /api/images/{id}/feature-request", middleware.RequireAuth(images.RequestFeature))

	// Billing
	mux.HandleFunc("GET /api/credits", middleware.RequireAuth(billing.Balance))
	mux.HandleFunc("POST /api/billing/checkout", middleware.RequireAuth(billing.CreateCheckout))
	mux.HandleFunc("GET /api/billing/checkout/{id}", middleware.RequireAuth(billing.Session))

	// ============================================================================
	// ADMIN ROUTES
	// ============================================================================

	mux.HandleFunc("POST /api/admin/images/{id}/feature", middleware.RequireAdmin(admin.Feature))
	mux.HandleFunc("DELETE /api/admin/images/{id}/feature", middleware.RequireAdmin(admin.Unfeature))
	mux.HandleFunc("POST /api/admin/images/{id}/disable", middleware.RequireAdmin(admin.Disable))
	mux.HandleFunc("DELETE /api/admin/images/{id}/disable", middleware.RequireAdmin(admin.Enable))

	// ============================================================================
	// WEBHOOKS
	// ============================================================================

	// Payment provider webhook (works with both Polar and Stripe)
	mux.HandleFunc("POST /webhooks/payment", billing.Webhook)

	// Global middleware - executed in order (top to bottom)
	return middleware.Chain(
		mux,
		middleware.RequestLogging,
		middleware.AuthMiddleware(app.Cfg.JWTSecret, app.UserService),
	)
}
