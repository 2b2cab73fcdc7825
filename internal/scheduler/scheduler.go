// Package scheduler publishes course lessons to the group on a fixed period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/lesson"
	"github.com/ashureev/codetutor/internal/metrics"
	"github.com/ashureev/codetutor/internal/store"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateDisabled State = iota
	StateIdle
	StateScheduled
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StatePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the result of one Tick.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDisabled  Outcome = "disabled"
)

// ErrBusy is returned with OutcomeSkipped when a publication is already running.
var ErrBusy = errors.New("publication already in progress")

// saveTimeout bounds persisting the cursor after a delivered post.
const saveTimeout = 10 * time.Second

// Post is one rendered lesson ready for delivery.
type Post struct {
	Lesson      domain.Lesson
	Text        string
	PublishedAt time.Time
}

// MessageRef identifies a delivered message so it can be pinned.
type MessageRef struct {
	ChatID    string
	MessageID int64
}

// Publisher delivers posts to the group chat.
type Publisher interface {
	Publish(ctx context.Context, post Post) (MessageRef, error)
	Pin(ctx context.Context, ref MessageRef) error
}

// CursorStore persists the shared lesson cursor. store.Backend satisfies it.
type CursorStore interface {
	LoadCursor(ctx context.Context) (*domain.SchedulerCursor, error)
	SaveCursor(ctx context.Context, cursor domain.SchedulerCursor) error
}

// Config controls timing and rendering.
type Config struct {
	Enabled      bool
	Period       time.Duration
	StartupDelay time.Duration
	Location     *time.Location
}

// Scheduler owns the group cursor. mu is held for an entire publication so
// the cursor is read, published and advanced as one step.
type Scheduler struct {
	cfg     Config
	cursors CursorStore
	catalog *lesson.Catalog
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time

	state   atomic.Int32
	running atomic.Bool

	mu     sync.Mutex
	loaded bool
	cursor int
	seen   int
}

// New returns a scheduler in StateDisabled when cfg.Enabled is false and in
// StateIdle otherwise.
func New(cfg Config, cursors CursorStore, catalog *lesson.Catalog, pub Publisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		cfg:     cfg,
		cursors: cursors,
		catalog: catalog,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.Enabled {
		s.state.Store(int32(StateIdle))
	} else {
		s.state.Store(int32(StateDisabled))
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	if s.State() != StateDisabled {
		s.state.Store(int32(st))
	}
}

// restingState is where the scheduler returns after a publication.
func (s *Scheduler) restingState() State {
	if s.running.Load() {
		return StateScheduled
	}
	return StateIdle
}

// Run waits the startup delay, publishes, then publishes every period until
// ctx is done. A disabled scheduler returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.State() == StateDisabled {
		s.logger.Info("Lesson scheduler disabled")
		return
	}

	s.running.Store(true)
	s.setState(StateScheduled)
	defer func() {
		s.running.Store(false)
		s.setState(StateIdle)
	}()

	s.logger.Info("Lesson scheduler started",
		"startup_delay", s.cfg.StartupDelay,
		"period", s.cfg.Period,
		"timezone", s.cfg.Location.String())

	timer := time.NewTimer(s.cfg.StartupDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.tickAndLog(ctx)
	case <-ctx.Done():
		s.logger.Info("Lesson scheduler shutting down", "reason", ctx.Err())
		return
	}

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tickAndLog(ctx)
		case <-ctx.Done():
			s.logger.Info("Lesson scheduler shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	outcome, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error("Lesson publication failed, will retry next period",
			"outcome", outcome,
			"error", err)
	}
}

// Tick publishes the lesson at the cursor and advances it. The cursor only
// moves after the publisher accepts the post.
func (s *Scheduler) Tick(ctx context.Context) (Outcome, error) {
	outcome, err := s.tick(ctx)
	metrics.SchedulerTicks.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Scheduler) tick(ctx context.Context) (Outcome, error) {
	if s.State() == StateDisabled {
		return OutcomeDisabled, nil
	}
	if !s.mu.TryLock() {
		return OutcomeSkipped, ErrBusy
	}
	defer s.mu.Unlock()

	s.setState(StatePublishing)
	defer func() { s.setState(s.restingState()) }()

	if err := s.syncLocked(ctx); err != nil {
		return OutcomeSkipped, err
	}

	index := s.cursor
	l, err := s.catalog.At(index)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("derive lesson %d: %w", index, err)
	}
	now := s.now()
	post := Post{Lesson: l, Text: lesson.Render(l, now, s.cfg.Location), PublishedAt: now}

	ref, err := s.pub.Publish(ctx, post)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("publish lesson %d: %w", index, err)
	}

	if err := s.pub.Pin(ctx, ref); err != nil {
		s.logger.Warn("Failed to pin lesson message",
			"lesson_index", index,
			"message_id", ref.MessageID,
			"error", err)
	}

	s.cursor = index + 1
	metrics.SchedulerCursor.Set(float64(s.cursor))
	next := domain.SchedulerCursor{LessonIndex: s.cursor, LastUpdated: now}
	// The post is out; persist even if shutdown cancelled ctx meanwhile.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := store.Retry(saveCtx, store.DefaultAttempts, store.DefaultBaseDelay, func(ctx context.Context) error {
		return s.cursors.SaveCursor(ctx, next)
	}); err != nil {
		s.logger.Error("Failed to persist scheduler cursor",
			"lesson_index", s.cursor,
			"error", err)
	} else {
		s.seen = s.cursor
	}

	s.logger.Info("Lesson published",
		"lesson_index", index,
		"track", string(l.Track),
		"title", l.Title)
	return OutcomePublished, nil
}

// syncLocked re-reads the persisted cursor so a value written by another
// process (lessonctl cursor set) takes effect on the next tick. seen is the
// last value this scheduler read or wrote; a stored value equal to it means
// nobody else wrote, and the in-memory cursor is kept even if a save failed.
// Once loaded, a read failure falls back to memory. Caller holds mu.
func (s *Scheduler) syncLocked(ctx context.Context) error {
	var c *domain.SchedulerCursor
	err := store.Retry(ctx, store.DefaultAttempts, store.DefaultBaseDelay, func(ctx context.Context) error {
		var lerr error
		c, lerr = s.cursors.LoadCursor(ctx)
		return lerr
	})
	if err != nil {
		if !s.loaded {
			return fmt.Errorf("load scheduler cursor: %w", err)
		}
		s.logger.Warn("Failed to re-read scheduler cursor, using in-memory value",
			"lesson_index", s.cursor,
			"error", err)
		return nil
	}
	stored := 0
	if c != nil {
		stored = c.LessonIndex
	}
	if !s.loaded || stored != s.seen {
		if s.loaded {
			s.logger.Info("Scheduler cursor changed externally",
				"from", s.cursor,
				"to", stored)
		}
		s.cursor = stored
	}
	s.seen = stored
	s.loaded = true
	metrics.SchedulerCursor.Set(float64(s.cursor))
	return nil
}

// Cursor returns the next lesson index to publish.
func (s *Scheduler) Cursor(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return 0, err
	}
	return s.cursor, nil
}
