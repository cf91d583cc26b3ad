// Package main is the entry point for the image2ad-api server.
// Note: user identity, OAuth, and sessions live with the upstream auth
// provider; this service sees bearer tokens and external subject IDs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/database"
	"github.com/image2ad/image2ad-api/internal/http/handlers"
	"github.com/image2ad/image2ad-api/internal/http/mw"
	"github.com/image2ad/image2ad-api/internal/logging"
	"github.com/image2ad/image2ad-api/internal/poller"
	"github.com/image2ad/image2ad-api/internal/repository"
	"github.com/image2ad/image2ad-api/internal/service"
	"github.com/image2ad/image2ad-api/internal/version"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting image2ad-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize services
	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Start background polling for in-flight jobs
	ctx, cancel := context.WithCancel(context.Background())
	orchestrator := poller.NewOrchestrator(cfg, services.Reconcile, logger)
	orchestrator.Start(ctx)

	var sweeper *poller.Sweeper
	if cfg.SweepEnabled {
		sweeper = poller.NewSweeper(cfg, repos.Job, orchestrator, logger)
		sweeper.Start(ctx)
	}

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())

	// Request timeout middleware. Job reads reconcile against the
	// provider and may move a finished result into storage inline, so
	// they get extra headroom. The Stripe webhook is excluded; its
	// work is bounded and Stripe enforces its own delivery timeout.
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          15 * time.Second,
		Extended:         2 * time.Minute,
		ExtendedPatterns: []string{"/jobs/", "/generations"},
		SkipPatterns:     []string{"/webhooks/"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-API-Version", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB); media never travels through this API,
	// only presigned URLs do
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Global concurrency throttle
	router.Use(middleware.Throttle(100))

	// Main API with OpenAPI docs
	humaConfig := huma.DefaultConfig("Image2Ad API", "1.0.0")
	humaConfig.Info.Description = "AI media generation API: submit image, video, and music generations and poll them to completion."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:        "http",
			Scheme:      "bearer",
			Description: "HMAC-signed bearer token issued by the auth frontend.",
		},
	}
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("Image2Ad API", "1.0.0")
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Config for protected routes (docs are served by the main API)
	protectedConfig := huma.DefaultConfig("Image2Ad API", "1.0.0")
	protectedConfig.Info.Description = humaConfig.Info.Description
	protectedConfig.Servers = humaConfig.Servers
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Health check (public, shown in docs)
	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	// Kubernetes probes (hidden from docs - internal use only)
	huma.Get(hiddenAPI, "/healthz", handlers.Livez)
	huma.Get(hiddenAPI, "/readyz", handlers.NewReadyzHandler(db).Readyz)

	// Stripe webhook (signature verified by handler, not user auth)
	if cfg.StripeWebhookSecret != "" {
		stripeWebhook := handlers.NewStripeWebhookHandler(cfg, services.Billing, logger)
		router.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
		logger.Info("stripe webhook endpoint enabled")
	}

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.AuthSigningKey))

		protectedAPI := humachi.New(r, protectedConfig)

		// Generations
		generationHandler := handlers.NewGenerationHandler(cfg, services.Submission, orchestrator)
		huma.Post(protectedAPI, "/api/v1/generations", generationHandler.CreateGeneration)

		// Jobs
		jobHandler := handlers.NewJobHandler(services.Submission, services.Reconcile, services.Storage, logger)
		huma.Get(protectedAPI, "/api/v1/jobs", jobHandler.ListJobs)
		huma.Get(protectedAPI, "/api/v1/jobs/{id}", jobHandler.GetJob)

		// Billing
		billingHandler := handlers.NewBillingHandler(services.Account)
		huma.Get(protectedAPI, "/api/v1/billing/balance", billingHandler.GetBalance)
		huma.Get(protectedAPI, "/api/v1/billing/transactions", billingHandler.ListTransactions)
		huma.Get(protectedAPI, "/api/v1/usage", billingHandler.GetUsage)

		// Uploads and media library
		mediaHandler := handlers.NewMediaHandler(services.Account, services.Storage)
		huma.Post(protectedAPI, "/api/v1/uploads", mediaHandler.CreateUpload)
		huma.Patch(protectedAPI, "/api/v1/media/{file_name}", mediaHandler.RenameMedia)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop background polling first
		cancel()
		if sweeper != nil {
			sweeper.Stop()
		}
		orchestrator.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
