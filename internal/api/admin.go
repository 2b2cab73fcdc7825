package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/codetutor/internal/middleware"
	"github.com/ashureev/codetutor/internal/scheduler"
)

// GetGroupProgress returns aggregate progress over all users.
func (h *Handler) GetGroupProgress(w http.ResponseWriter, r *http.Request) {
	stats, err := h.progress.GroupStats(r.Context())
	if err != nil {
		h.writeProgressError(w, "group", "", err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// ResetProgress puts a user back at lesson 0.
func (h *Handler) ResetProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.progress.Reset(r.Context(), userID); err != nil {
		h.writeProgressError(w, "reset", userID, err)
		return
	}
	h.logger.Info("Progress reset by admin",
		"user_id", userID,
		"admin_id", middleware.AdminIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// TriggerTick runs one scheduler publication now.
func (h *Handler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.scheduler.Tick(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		Error(w, http.StatusConflict, "publication already in progress")
		return
	}
	if err != nil {
		h.logger.Error("Manual scheduler tick failed",
			"admin_id", middleware.AdminIDFromContext(r.Context()),
			"error", err)
		JSON(w, http.StatusBadGateway, map[string]string{"outcome": string(outcome), "error": "publication failed"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// PurgeCache drops cached fallback answers so the next ask retries upstream.
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	n := h.tutor.PurgeDegraded()
	h.logger.Info("Cache purged by admin",
		"purged", n,
		"admin_id", middleware.AdminIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]int{"purged": n})
}
