// Package api provides HTTP handlers for the tutor API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/codetutor/internal/bot"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/middleware"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/scheduler"
)

const maxBodyBytes = 64 << 10

// Tutor handles user actions. *bot.Service implements it.
type Tutor interface {
	HandleMessage(ctx context.Context, userID, text string) (bot.Reply, error)
	NextLesson(ctx context.Context, userID string) (domain.Lesson, error)
	Feedback(userID string, score int) (domain.SkillLevel, error)
	Settings(userID string) bot.Settings
	UpdateSettings(userID string, u bot.SettingsUpdate) (bot.Settings, error)
	PurgeDegraded() int
}

// Progress exposes read and admin operations on lesson progress.
// *progress.Store implements it.
type Progress interface {
	Stats(ctx context.Context, userID string) (progress.Stats, error)
	Reset(ctx context.Context, userID string) error
	GroupStats(ctx context.Context) (progress.GroupStats, error)
}

// Ticker triggers an out-of-band scheduler publication.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.Outcome, error)
}

// Handler serves the tutor API.
type Handler struct {
	tutor     Tutor
	progress  Progress
	scheduler Ticker
	isAdmin   func(userID string) bool
	logger    *slog.Logger
}

// NewHandler creates a Handler. isAdmin guards the admin routes.
func NewHandler(tutor Tutor, prog Progress, sched Ticker, isAdmin func(string) bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tutor:     tutor,
		progress:  prog,
		scheduler: sched,
		isAdmin:   isAdmin,
		logger:    logger,
	}
}

// RegisterRoutes mounts the API under /api and metrics under /metrics.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.PostMessage)
		r.Post("/lessons/next", h.NextLesson)
		r.Post("/feedback", h.PostFeedback)
		r.Get("/progress/{userID}", h.GetProgress)
		r.Get("/settings/{userID}", h.GetSettings)
		r.Put("/settings/{userID}", h.PutSettings)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.isAdmin))
			r.Get("/progress", h.GetGroupProgress)
			r.Post("/progress/{userID}/reset", h.ResetProgress)
			r.Post("/scheduler/tick", h.TriggerTick)
			r.Post("/cache/purge", h.PurgeCache)
		})
	})
	r.Handle("/metrics", promhttp.Handler())
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, rejecting oversized or trailing input.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after request body")
	}
	return nil
}
