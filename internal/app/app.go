package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/db"
	"github.com/glimmerapp/glimmer/internal/repository"
	"github.com/glimmerapp/glimmer/internal/service"
	"github.com/glimmerapp/glimmer/internal/service/payment"
	"github.com/glimmerapp/glimmer/internal/storage"
	"github.com/glimmerapp/glimmer/internal/task"
	"github.com/glimmerapp/glimmer/internal/transform"
)

type App struct {
	Cfg               *config.Config
	DB                *sqlx.DB
	Storage           storage.Storage
	Pool              *task.Pool
	UserService       *service.UserService
	ImageService      *service.ImageService
	GenerationService *service.GenerationService
	BillingService    *service.BillingService
	EmailService      *service.EmailService
	PaymentService    payment.Provider
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	imageRepository := repository.NewImageRepository(database)
	checkoutRepository := repository.NewCheckoutRepository(database)

	// Storage
	blobStorage, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}

	// Services
	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	userService := service.NewUserService(userRepository, cfg.SignupCredits)
	access := service.NewAccess(imageRepository)
	imageService := service.NewImageService(cfg, imageRepository, blobStorage, access)

	transformer := transform.NewClient(cfg.TransformAPIURL, cfg.TransformAPIKey, cfg.TransformStyle)
	generationService := service.NewGenerationService(
		cfg,
		database,
		imageRepository,
		userRepository,
		blobStorage,
		transformer,
		access,
	)

	// The pool processes with the generation service, and the service
	// enqueues into the pool, so the scheduler is wired in after both exist.
	pool := task.NewPool(cfg.TaskWorkers, generationService.Process)
	generationService.SetScheduler(pool)

	billingService := service.NewBillingService(database, checkoutRepository, userRepository, emailService)

	// Initialize payment provider based on config
	paymentProvider, err := payment.NewProvider(cfg, billingService)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment provider: %v", err)
	}

	// Recover work that was committed but never processed before the last
	// shutdown.
	err = generationService.RequeueInFlight(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to requeue in-flight generations: %v", err)
	}

	return &App{
		Cfg:               cfg,
		DB:                database,
		Storage:           blobStorage,
		Pool:              pool,
		UserService:       userService,
		ImageService:      imageService,
		GenerationService: generationService,
		BillingService:    billingService,
		EmailService:      emailService,
		PaymentService:    paymentProvider,
	}, nil
}

func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
