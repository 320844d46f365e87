package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/reborn/internal/api"
	"github.com/ashureev/reborn/internal/auth"
	"github.com/ashureev/reborn/internal/coach"
	"github.com/ashureev/reborn/internal/config"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/jobs"
	"github.com/ashureev/reborn/internal/llm"
	"github.com/ashureev/reborn/internal/metrics"
	"github.com/ashureev/reborn/internal/middleware"
	"github.com/ashureev/reborn/internal/reminder"
	"github.com/ashureev/reborn/internal/store"
	"github.com/ashureev/reborn/internal/store/migrations"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()
	if err := migrations.Run(ctx, db); err != nil {
		return err
	}
	slog.Info("Migrations complete", "db_path", cfg.DBPath)
	return nil
}

// codeStore picks Redis when configured and the in-process cache otherwise.
func codeStore(ctx context.Context, cfg *config.Config) (auth.CodeStore, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, verification codes kept in process memory")
		return auth.NewMemoryCodeStore(time.Minute), func() {}, nil
	}
	codes, err := auth.NewRedisCodeStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Redis code store connected")
	return codes, func() {
		if err := codes.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}, nil
}

// originPatterns converts allowed CORS origins to WebSocket host patterns.
func originPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	var patterns []string
	for _, origin := range cfg.CORSOrigins {
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	codes, closeCodes, err := codeStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize code store: %w", err)
	}
	defer closeCodes()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gen, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("initialize llm: %w", err)
	}

	tokens, err := identity.NewTokens(cfg.Auth.JWTSecret, cfg.AppName, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("initialize tokens: %w", err)
	}

	// Initialize services.
	authSvc := auth.NewService(codes, auth.LogSender{}, repo, tokens, auth.Config{
		CodeLength: cfg.Auth.CodeLength,
		CodeTTL:    cfg.Auth.CodeTTL,
	})
	coachSvc := coach.NewService(repo, repo, gen, coach.Config{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, m)
	scheduler := reminder.NewScheduler(reminder.DefaultPool())

	sendCodeLimiter := middleware.NewRateLimiter(cfg.RateLimit.SendCodePerMinute)
	defer sendCodeLimiter.Stop()
	verifyCodeLimiter := middleware.NewRateLimiter(cfg.RateLimit.VerifyCodePerMinute)
	defer verifyCodeLimiter.Stop()
	chatLimiter := middleware.NewRateLimiter(cfg.RateLimit.ChatPerMinute)
	defer chatLimiter.Stop()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, authSvc, 5*time.Second)
	authHandler := api.NewAuthHandler(authSvc, sendCodeLimiter, verifyCodeLimiter, m, cfg.Debug)
	chatHandler := api.NewChatHandler(coachSvc, chatLimiter, m)
	socketHandler := api.NewChatSocketHandler(coachSvc, chatLimiter, m, originPatterns(cfg))
	profileHandler := api.NewProfileHandler(repo)
	reminderHandler := api.NewReminderHandler(scheduler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(tokens, repo))
		chatHandler.RegisterRoutes(r)
		profileHandler.RegisterRoutes(r)
		reminderHandler.RegisterRoutes(r)
		r.Get("/ws/chat", socketHandler.ServeHTTP)
	})

	// Create server.
	// Note: SSE and WebSocket replies require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for streaming
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start retention worker.
	if cfg.Retention.MaxAge > 0 {
		worker, err := jobs.NewRetentionWorker(repo, cfg.Retention.MaxAge, cfg.Retention.Schedule, m)
		if err != nil {
			return fmt.Errorf("initialize retention worker: %w", err)
		}
		worker.Start(ctx)
	} else {
		slog.Info("Conversation retention disabled")
	}

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
