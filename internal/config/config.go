package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver       string
	DBConnection   string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Identity (JWTs are issued by the external identity provider and
	// verified here with a shared secret)
	JWTSecret string

	// Credits
	SignupCredits   int
	RefundOnFailure bool

	// Uploads
	MaxUploadBytes   int64
	UploadRateLimit  int
	UploadRateWindow time.Duration

	// Transformation provider
	TransformAPIURL string
	TransformAPIKey string
	TransformStyle  string

	// Background workers
	TaskWorkers int

	// Payment
	PaymentProvider string // "polar" or "stripe"
	// Payment - Polar
	PolarAPIKey            string
	PolarWebhookSecret     string
	PolarSandboxMode       bool
	PolarProductIDStarter  string
	PolarProductIDStandard string
	PolarProductIDStudio   string
	// Payment - Stripe
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripePriceIDStarter  string
	StripePriceIDStandard string
	StripePriceIDStudio   string

	// Email
	EmailFrom    string
	ResendAPIKey string

	// Observability (optional)
	SentryDSN string

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region              string
	S3Bucket              string
	S3AccessKey           string
	S3SecretKey           string
	S3Endpoint            string        // Optional: for S3-compatible services
	S3PresignExpiryShared time.Duration // Expiry for share-link URLs
	S3PresignExpiryOwner  time.Duration // Expiry for owner-facing URLs
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Glimmer"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envRequired("APP_URL"), // Required: base URL for checkout redirects and share links
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:       envString("DB_DRIVER", "sqlite"),
		DBConnection:   envString("DB_CONNECTION", "./data/glimmer.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),
		DBMaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 5),

		// Identity
		JWTSecret: envRequired("JWT_SECRET"),

		// Credits
		SignupCredits:   envInt("SIGNUP_CREDITS", 3),
		RefundOnFailure: envBool("REFUND_ON_FAILURE", true),

		// Uploads
		MaxUploadBytes:   envInt64("MAX_UPLOAD_BYTES", 5<<20), // 5MB
		UploadRateLimit:  envInt("UPLOAD_RATE_LIMIT", 30),
		UploadRateWindow: envDuration("UPLOAD_RATE_WINDOW", time.Minute),

		// Transformation provider
		TransformAPIURL: envString("TRANSFORM_API_URL", "https://api.transform.example.com"),
		TransformAPIKey: envString("TRANSFORM_API_KEY", ""),
		TransformStyle:  envString("TRANSFORM_STYLE", "dreamscape"),

		// Background workers
		TaskWorkers: envInt("TASK_WORKERS", 4),

		// Payment (provider selection and configuration)
		PaymentProvider:        envString("PAYMENT_PROVIDER", "polar"), // Default: polar
		PolarAPIKey:            envString("POLAR_API_KEY", ""),
		PolarWebhookSecret:     envString("POLAR_WEBHOOK_SECRET", ""),
		PolarSandboxMode:       envBool("POLAR_SANDBOX_MODE", envString("APP_ENV", "development") == "development"),
		PolarProductIDStarter:  envString("POLAR_PRODUCT_ID_STARTER", ""),
		PolarProductIDStandard: envString("POLAR_PRODUCT_ID_STANDARD", ""),
		PolarProductIDStudio:   envString("POLAR_PRODUCT_ID_STUDIO", ""),
		StripeSecretKey:        envString("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    envString("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceIDStarter:   envString("STRIPE_PRICE_ID_STARTER", ""),
		StripePriceIDStandard:  envString("STRIPE_PRICE_ID_STANDARD", ""),
		StripePriceIDStudio:    envString("STRIPE_PRICE_ID_STUDIO", ""),

		// Email (RESEND_API_KEY optional in development)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Storage (S3-compatible - required for image blobs)
		S3Region:              envRequired("S3_REGION"),
		S3Bucket:              envRequired("S3_BUCKET"),
		S3AccessKey:           envRequired("S3_ACCESS_KEY"),
		S3SecretKey:           envRequired("S3_SECRET_KEY"),
		S3Endpoint:            envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
		S3PresignExpiryShared: envDuration("S3_PRESIGN_EXPIRY_SHARED", 24*time.Hour),
		S3PresignExpiryOwner:  envDuration("S3_PRESIGN_EXPIRY_OWNER", 1*time.Hour),
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures all required services are configured for production deployments.
func validateProduction(cfg *Config) {
	if cfg.TransformAPIKey == "" {
		slog.Error("production deployment requires TRANSFORM_API_KEY",
			"hint", "set APP_ENV=development for local testing")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
