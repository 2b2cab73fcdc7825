// Package bot wires the session core together: admission, response cache,
// conversation history, the answer backend and lesson progress.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/codetutor/internal/cache"
	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/lesson"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/metrics"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/ratelimit"
	"github.com/ashureev/codetutor/internal/session"
)

var (
	// ErrRateLimited is returned when the admission gate denies a request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamTimeout is returned when no answer arrived in time.
	ErrUpstreamTimeout = errors.New("answer timed out")

	// ErrEmptyMessage is returned for blank questions.
	ErrEmptyMessage = errors.New("message is empty")
)

// Answerer produces answers for questions. *llm.Client implements it.
type Answerer interface {
	Answer(ctx context.Context, req llm.Request) (llm.Answer, error)
}

// Reply is the outcome of a handled message.
type Reply struct {
	Text     string `json:"reply"`
	Cached   bool   `json:"cached"`
	Degraded bool   `json:"degraded"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Gate     *ratelimit.Classes
	Cache    *cache.ResponseCache
	Sessions *session.Store
	Progress *progress.Store
	Catalog  *lesson.Catalog
	Answerer Answerer
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Service handles inbound user actions.
type Service struct {
	gate     *ratelimit.Classes
	cache    *cache.ResponseCache
	sessions *session.Store
	progress *progress.Store
	catalog  *lesson.Catalog
	answerer Answerer
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	inflight singleflight.Group
}

// New returns a Service. A zero Timeout uses 30s.
func New(d Deps) *Service {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		gate:     d.Gate,
		cache:    d.Cache,
		sessions: d.Sessions,
		progress: d.Progress,
		catalog:  d.Catalog,
		answerer: d.Answerer,
		timeout:  d.Timeout,
		logger:   d.Logger,
		now:      time.Now,
	}
}

func (s *Service) admit(userID string, class ratelimit.Class) bool {
	ok := s.gate.CheckAndRecord(userID, class, s.now())
	result := metrics.ResultAllowed
	if !ok {
		result = metrics.ResultDenied
	}
	metrics.AdmissionDecisions.WithLabelValues(string(class), result).Inc()
	return ok
}

// HandleMessage answers a user's question. Identical questions are served
// from the cache; concurrent identical misses share one upstream call.
func (s *Service) HandleMessage(ctx context.Context, userID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if !s.admit(userID, ratelimit.ClassMessage) {
		return Reply{}, ErrRateLimited
	}
	if lang := detectLanguage(text); lang != "" {
		s.sessions.GetOrCreate(userID).AddLanguage(lang)
	}

	fp := cache.Fingerprint(text)
	if hit, ok := s.cache.Get(fp); ok {
		if !hit.Degraded {
			metrics.CacheLookups.WithLabelValues(metrics.ResultHit).Inc()
			s.sessions.Append(userID, domain.RoleUser, text)
			s.sessions.Append(userID, domain.RoleAssistant, hit.Text)
			return Reply{Text: hit.Text, Cached: true}, nil
		}
		s.cache.Invalidate(fp)
		metrics.CacheLookups.WithLabelValues(metrics.ResultDropped).Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
	}

	sess := s.sessions.GetOrCreate(userID)
	snap := sess.Snapshot()
	req := llm.Request{
		Question:    text,
		History:     sess.Recent(config.Limits.HistorySize),
		Skill:       snap.SkillLevel,
		Preferences: snap.Preferences,
	}
	sess.Append(domain.RoleUser, text, s.now())

	started := s.now()
	ans, err := s.answer(ctx, fp, req)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrUpstreamTimeout) {
			outcome = "timeout"
			s.logger.Warn("Answer timed out", "user_id", userID, "timeout", s.timeout)
		}
		metrics.AnswerDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
		return Reply{}, err
	}

	outcome := "ok"
	if ans.Degraded {
		outcome = "degraded"
	} else {
		sess.Append(domain.RoleAssistant, ans.Text, s.now())
	}
	metrics.AnswerDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return Reply{Text: ans.Text, Degraded: ans.Degraded}, nil
}

// answer runs the upstream call once per fingerprint. The shared call is
// detached from any single caller's cancellation and bounded by the timeout;
// each caller waits at most the timeout on its own context.
func (s *Service) answer(ctx context.Context, fp string, req llm.Request) (llm.Answer, error) {
	ch := s.inflight.DoChan(fp, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		ans, err := s.answerer.Answer(callCtx, req)
		if err != nil {
			return llm.Answer{}, err
		}
		if s.cache.Put(fp, cache.Answer{Text: ans.Text, Degraded: ans.Degraded}) {
			metrics.CacheEntries.Set(float64(s.cache.Len()))
		}
		return ans, nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.DeadlineExceeded) {
				return llm.Answer{}, fmt.Errorf("%w: %v", ErrUpstreamTimeout, res.Err)
			}
			return llm.Answer{}, fmt.Errorf("answer question: %w", res.Err)
		}
		return res.Val.(llm.Answer), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return llm.Answer{}, ctx.Err()
		}
		return llm.Answer{}, ErrUpstreamTimeout
	}
}

// NextLesson hands the user their next lesson and advances their cursor.
func (s *Service) NextLesson(ctx context.Context, userID string) (domain.Lesson, error) {
	if !s.admit(userID, ratelimit.ClassLesson) {
		return domain.Lesson{}, ErrRateLimited
	}
	idx, err := s.progress.RequestNext(ctx, userID)
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ProgressOps.WithLabelValues("request_next", result).Inc()
	if err != nil {
		return domain.Lesson{}, err
	}
	return s.catalog.At(idx)
}

// Feedback records a 1..5 rating of the last answer and returns the user's
// resulting skill level.
func (s *Service) Feedback(userID string, score int) (domain.SkillLevel, error) {
	level, err := s.sessions.RecordFeedback(userID, score)
	if err != nil {
		return "", err
	}
	s.logger.Info("Feedback recorded", "user_id", userID, "score", score, "skill_level", string(level))
	return level, nil
}

// PurgeDegraded removes any cached answer whose text is the fallback reply.
func (s *Service) PurgeDegraded() int {
	n := s.cache.PurgeDegraded(func(a cache.Answer) bool { return a.Text == llm.FallbackText })
	if n > 0 {
		metrics.CacheEntries.Set(float64(s.cache.Len()))
		s.logger.Info("Purged degraded cache entries", "count", n)
	}
	return n
}
