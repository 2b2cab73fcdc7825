package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/codetutor/internal/bot"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/session"
)

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type lessonRequest struct {
	UserID string `json:"user_id"`
}

type lessonResponse struct {
	LessonIndex int          `json:"lesson_index"`
	Title       string       `json:"title"`
	Text        string       `json:"text"`
	Homework    string       `json:"homework"`
	Track       domain.Track `json:"track"`
}

type feedbackRequest struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type feedbackResponse struct {
	SkillLevel domain.SkillLevel `json:"skill_level"`
}

// PostMessage answers a question.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	reply, err := h.tutor.HandleMessage(r.Context(), req.UserID, req.Text)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, reply)
	case errors.Is(err, bot.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "text is required")
	case errors.Is(err, bot.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "too many messages, slow down")
	case errors.Is(err, bot.ErrUpstreamTimeout):
		Error(w, http.StatusGatewayTimeout, "the answer took too long, try again")
	default:
		h.logger.Error("Failed to answer message", "user_id", req.UserID, "error", err)
		Error(w, http.StatusBadGateway, "failed to get an answer")
	}
}

// NextLesson hands out the caller's next lesson.
func (h *Handler) NextLesson(w http.ResponseWriter, r *http.Request) {
	var req lessonRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	l, err := h.tutor.NextLesson(r.Context(), req.UserID)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, lessonResponse{
			LessonIndex: l.Index,
			Title:       l.Title,
			Text:        l.Text,
			Homework:    l.Homework,
			Track:       l.Track,
		})
	case errors.Is(err, bot.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "one lesson per minute, try again later")
	case errors.Is(err, progress.ErrStorageUnavailable):
		h.logger.Error("Progress storage unavailable", "user_id", req.UserID, "error", err)
		Error(w, http.StatusServiceUnavailable, "try again later")
	default:
		h.logger.Error("Failed to hand out lesson", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get lesson")
	}
}

// PostFeedback records a 1..5 rating of the last answer.
func (h *Handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	level, err := h.tutor.Feedback(req.UserID, req.Score)
	if errors.Is(err, session.ErrInvalidScore) {
		Error(w, http.StatusBadRequest, "score must be between 1 and 5")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	JSON(w, http.StatusOK, feedbackResponse{SkillLevel: level})
}

// GetSettings returns a user's skill level and answer preferences.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.tutor.Settings(chi.URLParam(r, "userID")))
}

// PutSettings changes any of a user's skill level, code style or explanation level.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req bot.SettingsUpdate
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := chi.URLParam(r, "userID")
	settings, err := h.tutor.UpdateSettings(userID, req)
	if errors.Is(err, bot.ErrInvalidSetting) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to update settings", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	JSON(w, http.StatusOK, settings)
}

// GetProgress returns one user's progress.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	stats, err := h.progress.Stats(r.Context(), userID)
	if err != nil {
		h.writeProgressError(w, "read", userID, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

func (h *Handler) writeProgressError(w http.ResponseWriter, op, userID string, err error) {
	h.logger.Error("Progress operation failed", "op", op, "user_id", userID, "error", err)
	if errors.Is(err, progress.ErrStorageUnavailable) {
		Error(w, http.StatusServiceUnavailable, "try again later")
		return
	}
	Error(w, http.StatusInternalServerError, "progress operation failed")
}
