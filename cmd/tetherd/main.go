// Tether - per-counterpart conversational session engine
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftlab/tether/internal/api"
	"github.com/driftlab/tether/internal/arbiter"
	"github.com/driftlab/tether/internal/config"
	"github.com/driftlab/tether/internal/gateway"
	"github.com/driftlab/tether/internal/middleware"
	"github.com/driftlab/tether/internal/responder"
	"github.com/driftlab/tether/internal/schedule"
	"github.com/driftlab/tether/internal/scheduler"
	"github.com/driftlab/tether/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting tether", "port", cfg.Port, "backend", cfg.Store.Backend, "dev", cfg.IsDevelopment())

	// Initialize the durable backend.
	var backend store.Backend
	switch cfg.Store.Backend {
	case "sqlite":
		backend, err = store.NewSQLiteBackend(cfg.Store.DBPath)
	default:
		backend, err = store.NewFileBackend(cfg.Store.DataDir)
	}
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := backend.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store ready")

	sessions := store.NewManager(backend, cfg.Store.LogCap)

	// Decision generator. Without an API key the service stays quiet but
	// keeps recording sessions.
	var gen responder.Responder = responder.Silent{}
	if cfg.Responder.Enabled() {
		gen, err = responder.NewOpenAIResponder(responder.OpenAIOptions{
			APIKey:         cfg.Responder.APIKey,
			Model:          cfg.Responder.Model,
			BaseURL:        cfg.Responder.BaseURL,
			Persona:        cfg.Responder.Persona,
			RequestTimeout: cfg.Responder.RequestTimeout,
		})
		if err != nil {
			slog.Error("Failed to initialize decision generator", "error", err)
			os.Exit(1)
		}
		slog.Info("Decision generator ready", "model", cfg.Responder.Model)
	} else {
		slog.Info("Decision generation disabled (OPENAI_API_KEY not set)")
	}

	registry := gateway.NewRegistry()
	dispatcher := gateway.NewDispatcher(registry)
	arb := arbiter.New(sessions, gen, dispatcher)
	wsHandler := gateway.NewHandler(registry, arb, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	api.NewSessionHandler(sessions, arb).RegisterRoutes(r)
	r.Get("/ws/channel", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background processes.
	sched := scheduler.New(sessions, gen, dispatcher, scheduler.Options{
		GuardWindow:            cfg.Scheduler.GuardWindow,
		ThinkingThresholds:     cfg.Scheduler.ThinkingThresholds,
		ThinkingSpacing:        cfg.Scheduler.ThinkingSpacing,
		MaxConsecutiveTimeouts: cfg.Scheduler.MaxConsecutiveTimeouts,
		SilenceThreshold:       cfg.Scheduler.SilenceThreshold,
		MinProactiveInterval:   cfg.Scheduler.MinProactiveInterval,
		TriggerProbability:     cfg.Scheduler.TriggerProbability,
		QuietHoursStart:        cfg.Scheduler.QuietHoursStart,
		QuietHoursEnd:          cfg.Scheduler.QuietHoursEnd,
	})

	runner := schedule.NewRunner()
	runner.Every("waiting", cfg.Scheduler.WaitingInterval, cfg.Scheduler.WaitingInterval, sched.RunWaitingCycle)
	runner.Every("outreach", cfg.Scheduler.OutreachInterval, cfg.Scheduler.OutreachInterval, sched.RunOutreachCycle)
	runner.Every("eviction", cfg.Scheduler.EvictionInterval, time.Minute, func(ctx context.Context) {
		if n := sessions.Evict(cfg.Store.Retention); n > 0 {
			slog.Info("Evicted stale sessions", "count", n)
		}
	})
	runner.Start(ctx)
	slog.Info("Background processes started",
		"waiting_interval", cfg.Scheduler.WaitingInterval,
		"outreach_interval", cfg.Scheduler.OutreachInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	runner.Stop()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions.FlushAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
