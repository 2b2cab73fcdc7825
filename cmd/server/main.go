// Code tutor bot server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/codetutor/internal/api"
	"github.com/ashureev/codetutor/internal/bot"
	"github.com/ashureev/codetutor/internal/cache"
	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/feed"
	"github.com/ashureev/codetutor/internal/lesson"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/middleware"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/ratelimit"
	"github.com/ashureev/codetutor/internal/scheduler"
	"github.com/ashureev/codetutor/internal/session"
	"github.com/ashureev/codetutor/internal/store"
	"github.com/ashureev/codetutor/internal/telegram"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"storage_backend", cfg.Storage.Backend,
		"scheduler_enabled", cfg.Scheduler.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	backend, backendName, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()
	slog.Info("Storage ready", "backend", backendName)

	catalog := lesson.Default()
	if cfg.LessonsPath != "" {
		catalog, err = lesson.LoadFile(cfg.LessonsPath)
		if err != nil {
			slog.Error("Failed to load lessons", "path", cfg.LessonsPath, "error", err)
			os.Exit(1)
		}
	}
	htmlCSS, js := catalog.Len()
	slog.Info("Lesson catalog loaded", "html_css", htmlCSS, "javascript", js)

	// Session core.
	gate := ratelimit.NewClasses(config.Limits.MessagesPerWindow, config.Limits.LessonsPerWindow, config.Limits.Window)
	gate.StartEviction(ctx)

	progressStore := progress.New(backend, progress.WithLogger(logger))
	svc := bot.New(bot.Deps{
		Gate:     gate,
		Cache:    cache.New(config.Limits.CacheCapacity),
		Sessions: session.NewStore(config.Limits.HistorySize, config.Limits.FeedbackWindow),
		Progress: progressStore,
		Catalog:  catalog,
		Answerer: llm.New(cfg.LLM, logger),
		Timeout:  cfg.LLM.Timeout,
		Logger:   logger,
	})

	// Scheduler: Telegram is the primary publisher, the websocket feed mirrors it.
	hub := feed.NewHub(0, feedOrigins(cfg.AllowedOrigins), logger)
	tg := telegram.New(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.ChatID, nil)
	sched := scheduler.New(scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		Period:       cfg.Scheduler.Period(),
		StartupDelay: cfg.Scheduler.StartupDelay,
		Location:     cfg.Scheduler.Location,
	}, backend, catalog, scheduler.NewFanOut(tg, logger, hub), logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	// Handlers.
	apiHandler := api.NewHandler(svc, progressStore, sched, cfg.IsAdmin, logger)
	healthHandler := api.NewHealthHandler(backend, backendName)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)
	r.Get("/ws/lessons", hub.ServeHTTP)

	// The lesson feed is a long-lived websocket, so no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Storage closes on return; let an in-flight publication persist first.
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		slog.Warn("Scheduler did not stop before shutdown deadline")
	}

	slog.Info("Server stopped successfully")
}

// feedOrigins maps CORS origins to websocket host patterns.
func feedOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
