package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenAds/loader/internal/auth"
	"github.com/OpenAds/loader/internal/campaignload"
	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/currency"
	"github.com/OpenAds/loader/internal/database"
	"github.com/OpenAds/loader/internal/dispatch"
	"github.com/OpenAds/loader/internal/metrics"
	"github.com/OpenAds/loader/internal/middleware"
	"github.com/OpenAds/loader/internal/task/manager"
	"github.com/OpenAds/loader/internal/task/persistence"
	"github.com/OpenAds/loader/internal/task/stream"
	"github.com/OpenAds/loader/internal/tiktok"
	"github.com/OpenAds/loader/internal/uploads"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.SetDefault(newLogger(cfg.Log))

	slog.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
	)

	slog.Info("CORS configuration",
		"allowed_origins", cfg.CORS.AllowedOrigins,
		"allowed_methods", cfg.CORS.AllowedMethods,
		"allowed_headers", cfg.CORS.AllowedHeaders,
		"allow_credentials", cfg.CORS.AllowCredentials,
		"max_age", cfg.CORS.MaxAge,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
		"service_url", cfg.Server.ServiceURL,
		"storage", cfg.Storage.Type,
		"platform_url", cfg.TikTok.BaseURL,
	)

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Perform health check
	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	authService := auth.NewAuthService(db)
	if err := authService.Migrate(); err != nil {
		log.Fatalf("failed to migrate auth tables: %v", err)
	}
	if cfg.Auth.BootstrapTenantID != "" {
		created, err := authService.EnsureTenant(&auth.Tenant{
			ID:       cfg.Auth.BootstrapTenantID,
			Name:     cfg.Auth.BootstrapTenantName,
			APIToken: cfg.Auth.BootstrapTenantToken,
		})
		if err != nil {
			log.Fatalf("failed to bootstrap tenant: %v", err)
		}
		slog.Info("bootstrap tenant checked", "tenant_id", cfg.Auth.BootstrapTenantID, "created", created)
	}

	loadStore, err := persistence.NewLoadStore(db)
	if err != nil {
		log.Fatalf("failed to create campaign load store: %v", err)
	}
	accountStore, err := persistence.NewAccountStore(db)
	if err != nil {
		log.Fatalf("failed to create platform account store: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	driver, err := uploads.NewStorageFromConfig(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to create storage driver: %v", err)
	}
	library, err := uploads.NewMediaLibrary(db, driver, cfg.Storage.URLExpiry)
	if err != nil {
		log.Fatalf("failed to create media library: %v", err)
	}

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(reg)

	queue := dispatch.NewQueue(cfg.Dispatch, reg)
	platform := tiktok.NewClient(cfg.TikTok, queue, nil)

	converter := currency.NewConverter(cfg.Currency, nil)
	go converter.Start(ctx)

	registry := manager.NewRegistry()
	tm := manager.NewManager(registry, cfg.Workflow, metrics.NewTasks(reg))
	hub := stream.NewHub(registry, middleware.OriginPatterns(&cfg.CORS))

	workflow := campaignload.NewWorkflow(platform, library, converter, cfg.Workflow)
	loads := campaignload.NewService(loadStore, accountStore, tm, workflow, cfg.Workflow)
	loadHandler := campaignload.NewHTTPHandler(loads, campaignload.NewAccounts(accountStore, platform))
	mediaHandler := uploads.NewHTTPHandler(library)

	requireAuth := auth.RequireAuth(authService)
	protected := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	// Set up HTTP routes
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(db); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("POST /api/campaign-loads", protected(loadHandler.HandleCreateLoad))
	mux.Handle("GET /api/campaign-loads", protected(loadHandler.HandleListLoads))
	mux.Handle("GET /api/campaign-loads/{id}", protected(loadHandler.HandleGetLoad))
	mux.Handle("POST /api/accounts", protected(loadHandler.HandleConnectAccount))
	mux.Handle("GET /api/accounts", protected(loadHandler.HandleListAccounts))
	mux.Handle("GET /api/tasks", protected(tm.HandleListTasks))
	mux.Handle("POST /api/tasks/{name}/retry", protected(tm.HandleRetryTask))
	mux.Handle("GET /api/tasks/ws", protected(hub.ServeWS))
	mux.Handle("POST /api/media/{kind}", protected(mediaHandler.Upload))
	// The platform downloads creatives from here without credentials.
	mux.HandleFunc("GET /api/media/{kind}/{id}", mediaHandler.Download)

	// Set up graceful shutdown
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)

	// Wrap handler with CORS and request metrics
	handler := middleware.CORS(&cfg.CORS)(httpMetrics.Middleware(mux))

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Create a context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown of HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	// Running loads are cancelled; their outcome is still persisted.
	slog.Info("stopping background tasks...")
	hub.Close()
	if err := tm.Shutdown(shutdownCtx); err != nil {
		slog.Error("tasks did not stop in time", "error", err)
	}
	queue.Close()
	stop()

	slog.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
