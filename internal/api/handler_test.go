package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/bot"
	"github.com/ashureev/codetutor/internal/cache"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/lesson"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/middleware"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/ratelimit"
	"github.com/ashureev/codetutor/internal/scheduler"
	"github.com/ashureev/codetutor/internal/session"
	"github.com/ashureev/codetutor/internal/store"
)

type fakeTutor struct {
	reply    bot.Reply
	lesson   domain.Lesson
	level    domain.SkillLevel
	settings bot.Settings
	update   bot.SettingsUpdate
	purged   int
	err      error
	lastUser string
}

func (f *fakeTutor) HandleMessage(_ context.Context, userID, _ string) (bot.Reply, error) {
	f.lastUser = userID
	return f.reply, f.err
}

func (f *fakeTutor) NextLesson(_ context.Context, userID string) (domain.Lesson, error) {
	f.lastUser = userID
	return f.lesson, f.err
}

func (f *fakeTutor) Feedback(userID string, _ int) (domain.SkillLevel, error) {
	f.lastUser = userID
	return f.level, f.err
}

func (f *fakeTutor) Settings(userID string) bot.Settings {
	f.lastUser = userID
	f.settings.UserID = userID
	return f.settings
}

func (f *fakeTutor) UpdateSettings(userID string, u bot.SettingsUpdate) (bot.Settings, error) {
	f.lastUser = userID
	f.update = u
	f.settings.UserID = userID
	return f.settings, f.err
}

func (f *fakeTutor) PurgeDegraded() int {
	return f.purged
}

type fakeProgress struct {
	stats progress.Stats
	group progress.GroupStats
	reset []string
	err   error
}

func (f *fakeProgress) Stats(_ context.Context, userID string) (progress.Stats, error) {
	f.stats.UserID = userID
	return f.stats, f.err
}

func (f *fakeProgress) Reset(_ context.Context, userID string) error {
	f.reset = append(f.reset, userID)
	return f.err
}

func (f *fakeProgress) GroupStats(context.Context) (progress.GroupStats, error) {
	return f.group, f.err
}

type fakeTicker struct {
	outcome scheduler.Outcome
	err     error
	calls   int
}

func (f *fakeTicker) Tick(context.Context) (scheduler.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func newRouter(tutor Tutor, prog Progress, ticker Ticker) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(tutor, prog, ticker, func(id string) bool { return id == "admin" }, nil)
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestPostMessageStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"empty", bot.ErrEmptyMessage, http.StatusBadRequest},
		{"rate limited", bot.ErrRateLimited, http.StatusTooManyRequests},
		{"timeout", fmt.Errorf("%w: deadline", bot.ErrUpstreamTimeout), http.StatusGatewayTimeout},
		{"upstream", errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tutor := &fakeTutor{reply: bot.Reply{Text: "hi", Cached: true}, err: tt.err}
			w := do(t, newRouter(tutor, &fakeProgress{}, &fakeTicker{}), http.MethodPost, "/api/messages", `{"user_id":"u1","text":"q"}`)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"reply":"hi","cached":true,"degraded":false}`, w.Body.String())
				assert.Equal(t, "u1", tutor.lastUser)
			}
		})
	}
}

func TestPostMessageRejectsBadBodies(t *testing.T) {
	h := newRouter(&fakeTutor{}, &fakeProgress{}, &fakeTicker{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/messages", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/messages", `{"text":"q"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/messages", `{"user_id":"u","text":"q"} {}`).Code)
}

func TestNextLessonStatusMapping(t *testing.T) {
	l := domain.Lesson{Index: 6, Track: domain.TrackJavaScript, Number: 1, Title: "Урок 1. Переменные", Text: "t", Homework: "h"}
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"rate limited", bot.ErrRateLimited, http.StatusTooManyRequests},
		{"storage", &progress.StorageError{Op: "save", UserID: "u1", Err: errors.New("disk")}, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newRouter(&fakeTutor{lesson: l, err: tt.err}, &fakeProgress{}, &fakeTicker{}), http.MethodPost, "/api/lessons/next", `{"user_id":"u1"}`)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"lesson_index":6,"title":"Урок 1. Переменные","text":"t","homework":"h","track":"javascript"}`, w.Body.String())
			}
		})
	}
}

func TestPostFeedback(t *testing.T) {
	h := newRouter(&fakeTutor{level: domain.SkillIntermediate}, &fakeProgress{}, &fakeTicker{})
	w := do(t, h, http.MethodPost, "/api/feedback", `{"user_id":"u1","score":4}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"skill_level":"intermediate"}`, w.Body.String())

	h = newRouter(&fakeTutor{err: session.ErrInvalidScore}, &fakeProgress{}, &fakeTicker{})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/feedback", `{"user_id":"u1","score":0}`).Code)
}

func TestGetProgress(t *testing.T) {
	prog := &fakeProgress{stats: progress.Stats{CurrentLesson: 3, CompletedCount: 3}}
	w := do(t, newRouter(&fakeTutor{}, prog, &fakeTicker{}), http.MethodGet, "/api/progress/u7", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got progress.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "u7", got.UserID)
	assert.Equal(t, 3, got.CurrentLesson)

	prog.err = &progress.StorageError{Op: "load", UserID: "u7", Err: errors.New("locked")}
	w = do(t, newRouter(&fakeTutor{}, prog, &fakeTicker{}), http.MethodGet, "/api/progress/u7", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminRoutesRequireAllowList(t *testing.T) {
	prog := &fakeProgress{group: progress.GroupStats{UserCount: 2, Users: []progress.Stats{}}}
	ticker := &fakeTicker{outcome: scheduler.OutcomePublished}
	h := newRouter(&fakeTutor{}, prog, ticker)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/progress", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/progress/u1/reset", "", middleware.AdminHeaderName, "u1").Code)
	assert.Empty(t, prog.reset)

	w := do(t, h, http.MethodGet, "/api/progress", "", middleware.AdminHeaderName, "admin")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_count":2`)

	w = do(t, h, http.MethodPost, "/api/progress/u1/reset", "", middleware.AdminHeaderName, "admin")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u1"}, prog.reset)

	w = do(t, h, http.MethodPost, "/api/scheduler/tick", "", middleware.AdminHeaderName, "admin")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outcome":"published"}`, w.Body.String())
	assert.Equal(t, 1, ticker.calls)
}

func TestSettingsRoutes(t *testing.T) {
	tutor := &fakeTutor{settings: bot.Settings{SkillLevel: domain.SkillIntermediate, CodeStyle: "concise", FavoriteLanguages: []string{"python"}}}
	h := newRouter(tutor, &fakeProgress{}, &fakeTicker{})

	w := do(t, h, http.MethodGet, "/api/settings/u3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u3"`)
	assert.Contains(t, w.Body.String(), `"skill_level":"intermediate"`)
	assert.Contains(t, w.Body.String(), `"favorite_languages":["python"]`)

	w = do(t, h, http.MethodPut, "/api/settings/u3", `{"code_style":"beginner","explanation_level":"basic"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bot.SettingsUpdate{CodeStyle: "beginner", ExplanationLevel: "basic"}, tutor.update)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/settings/u3", `nope`).Code)

	tutor.err = fmt.Errorf("%w: code_style %q", bot.ErrInvalidSetting, "terse")
	w = do(t, h, http.MethodPut, "/api/settings/u3", `{"code_style":"terse"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "code_style")
}

func TestPurgeCacheRequiresAdmin(t *testing.T) {
	h := newRouter(&fakeTutor{purged: 3}, &fakeProgress{}, &fakeTicker{})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/cache/purge", "").Code)

	w := do(t, h, http.MethodPost, "/api/cache/purge", "", middleware.AdminHeaderName, "admin")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"purged":3}`, w.Body.String())
}

func TestTriggerTickFailures(t *testing.T) {
	ticker := &fakeTicker{outcome: scheduler.OutcomeSkipped, err: scheduler.ErrBusy}
	h := newRouter(&fakeTutor{}, &fakeProgress{}, ticker)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/scheduler/tick", "", middleware.AdminHeaderName, "admin").Code)

	ticker.err = errors.New("telegram down")
	w := do(t, h, http.MethodPost, "/api/scheduler/tick", "", middleware.AdminHeaderName, "admin")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"skipped"`)
}

type stubAnswerer struct{}

func (stubAnswerer) Answer(_ context.Context, req llm.Request) (llm.Answer, error) {
	return llm.Answer{Text: "answer to " + req.Question}, nil
}

func TestEndToEndLessonFlow(t *testing.T) {
	backend, err := store.NewFile(t.TempDir() + "/state.json")
	require.NoError(t, err)
	prog := progress.New(backend)
	svc := bot.New(bot.Deps{
		Gate:     ratelimit.NewClasses(10, 2, time.Minute),
		Cache:    cache.New(10),
		Sessions: session.NewStore(10, 5),
		Progress: prog,
		Catalog:  lesson.Default(),
		Answerer: stubAnswerer{},
	})
	h := newRouter(svc, prog, &fakeTicker{})

	w := do(t, h, http.MethodPost, "/api/lessons/next", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lesson_index":0`)

	w = do(t, h, http.MethodPost, "/api/lessons/next", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lesson_index":1`)

	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/lessons/next", `{"user_id":"u1"}`).Code)

	w = do(t, h, http.MethodGet, "/api/progress/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_lesson":2`)
	assert.Contains(t, w.Body.String(), `"completed_count":2`)

	w = do(t, h, http.MethodPost, "/api/messages", `{"user_id":"u1","text":"what is flexbox"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reply":"answer to what is flexbox","cached":false,"degraded":false}`, w.Body.String())

	w = do(t, h, http.MethodPut, "/api/settings/u1", `{"skill_level":"wizard"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/settings/u1", `{"skill_level":"advanced"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"skill_level":"advanced"`)
	assert.Contains(t, w.Body.String(), `"turns":2`)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler(fakePinger{}, "sqlite").RegisterHealth(r)
	w := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"storage":"ok"`)

	r = chi.NewRouter()
	NewHealthHandler(fakePinger{err: errors.New("gone")}, "file").RegisterHealth(r)
	w = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestMetricsRoute(t *testing.T) {
	w := do(t, newRouter(&fakeTutor{}, &fakeProgress{}, &fakeTicker{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
