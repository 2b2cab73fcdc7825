// Package progress tracks each user's position in the lesson course. Every
// operation reads the user's record from a store.Backend under a per-user
// lock and writes any change back before returning.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/store"
)

var (
	// ErrStorageUnavailable is matched by every *StorageError.
	ErrStorageUnavailable = errors.New("progress storage unavailable")

	// ErrRegression is returned when Advance targets an index below the
	// user's current lesson.
	ErrRegression = errors.New("lesson index is behind current lesson")

	// ErrInvalidIndex is returned for negative lesson indices.
	ErrInvalidIndex = errors.New("lesson index must be >= 0")
)

// StorageError reports a backend failure that survived retries.
type StorageError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s progress for %s: %v", e.Op, e.UserID, e.Err)
}

// Unwrap exposes both the sentinel and the backend cause to errors.Is.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// Stats is the read-only view of one user's progress.
type Stats struct {
	UserID         string    `json:"user_id"`
	CurrentLesson  int       `json:"current_lesson"`
	CompletedCount int       `json:"completed_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	TotalRequested int       `json:"total_requested"`
}

func statsOf(rec domain.ProgressRecord) Stats {
	return Stats{
		UserID:         rec.UserID,
		CurrentLesson:  rec.CurrentLesson,
		CompletedCount: len(rec.Completed),
		StartedAt:      rec.StartedAt,
		LastActivity:   rec.LastActivity,
		TotalRequested: rec.TotalRequested,
	}
}

// entry serializes one user's operations. refs counts callers holding or
// waiting for mu; the entry leaves the table when it drops to zero.
type entry struct {
	mu   sync.Mutex
	refs int
}

// Store is the per-user progress tracker.
type Store struct {
	backend   store.Backend
	logger    *slog.Logger
	now       func() time.Time
	attempts  int
	baseDelay time.Duration

	mu      sync.Mutex // guards entries and refs only; never held during I/O
	entries map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetry overrides the backend retry policy.
func WithRetry(attempts int, base time.Duration) Option {
	return func(s *Store) {
		s.attempts = attempts
		s.baseDelay = base
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Store persisting to backend.
func New(backend store.Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		now:       time.Now,
		attempts:  store.DefaultAttempts,
		baseDelay: store.DefaultBaseDelay,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockUser returns the user's entry with its mutex held. Release it with
// unlockUser.
func (s *Store) lockUser(userID string) *entry {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{}
		s.entries[userID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return e
}

func (s *Store) unlockUser(userID string, e *entry) {
	e.mu.Unlock()

	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, userID)
	}
	s.mu.Unlock()
}

// tracked reports how many users currently hold or await a lock.
func (s *Store) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// load reads the user's record from the backend on every call, so writes made
// by another process (lessonctl) are seen before the next mutation. A user
// with no stored record gets a fresh in-memory one and stored is false.
func (s *Store) load(ctx context.Context, userID string) (rec domain.ProgressRecord, stored bool, err error) {
	var loaded *domain.ProgressRecord
	err = store.Retry(ctx, s.attempts, s.baseDelay, func(ctx context.Context) error {
		var lerr error
		loaded, lerr = s.backend.LoadProgress(ctx, userID)
		return lerr
	})
	if err != nil {
		return domain.ProgressRecord{}, false, &StorageError{Op: "load", UserID: userID, Err: err}
	}
	if loaded == nil {
		return domain.NewProgressRecord(userID, s.now()), false, nil
	}
	return loaded.Clone(), true, nil
}

// commit persists next. Nothing is cached, so a failed write leaves the
// stored record as the only state.
func (s *Store) commit(ctx context.Context, op string, next domain.ProgressRecord) error {
	err := store.Retry(ctx, s.attempts, s.baseDelay, func(ctx context.Context) error {
		return s.backend.SaveProgress(ctx, next)
	})
	if err != nil {
		s.logger.Error("Failed to persist progress",
			"op", op,
			"user_id", next.UserID,
			"error", err)
		return &StorageError{Op: op, UserID: next.UserID, Err: err}
	}
	return nil
}

// NextLesson returns the user's current lesson index without advancing it.
// The first query for an unknown user creates and persists a record at 0.
func (s *Store) NextLesson(ctx context.Context, userID string) (int, error) {
	e := s.lockUser(userID)
	defer s.unlockUser(userID, e)

	rec, stored, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !stored {
		if err := s.commit(ctx, "create", rec); err != nil {
			return 0, err
		}
	}
	return rec.CurrentLesson, nil
}

// Advance moves the user's cursor to index. A lower index than the current
// lesson returns ErrRegression; the same index is accepted. When completed is
// set, index joins the completed set.
func (s *Store) Advance(ctx context.Context, userID string, index int, completed bool) (domain.ProgressRecord, error) {
	if index < 0 {
		return domain.ProgressRecord{}, ErrInvalidIndex
	}

	e := s.lockUser(userID)
	defer s.unlockUser(userID, e)

	rec, _, err := s.load(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if index < rec.CurrentLesson {
		return domain.ProgressRecord{}, fmt.Errorf("advance %s to %d (current %d): %w",
			userID, index, rec.CurrentLesson, ErrRegression)
	}

	next := rec.Clone()
	next.CurrentLesson = index
	if completed {
		next.MarkCompleted(index)
	}
	next.TotalRequested++
	next.LastActivity = s.now()

	if err := s.commit(ctx, "advance", next); err != nil {
		return domain.ProgressRecord{}, err
	}
	return next, nil
}

// RequestNext hands out the user's current lesson, marks it completed and
// moves the cursor one past it. It returns the index that was handed out.
func (s *Store) RequestNext(ctx context.Context, userID string) (int, error) {
	e := s.lockUser(userID)
	defer s.unlockUser(userID, e)

	rec, _, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	shown := rec.CurrentLesson
	next := rec.Clone()
	next.MarkCompleted(shown)
	next.CurrentLesson = shown + 1
	next.TotalRequested++
	next.LastActivity = s.now()

	if err := s.commit(ctx, "request_next", next); err != nil {
		return 0, err
	}
	return shown, nil
}

// Stats returns the user's progress summary. It never writes, and an unknown
// user leaves no trace in the store.
func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	e := s.lockUser(userID)
	defer s.unlockUser(userID, e)

	rec, _, err := s.load(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(rec), nil
}

// Reset reinitializes the user's record at lesson 0.
func (s *Store) Reset(ctx context.Context, userID string) error {
	e := s.lockUser(userID)
	defer s.unlockUser(userID, e)

	if err := s.commit(ctx, "reset", domain.NewProgressRecord(userID, s.now())); err != nil {
		return err
	}
	s.logger.Info("Progress reset", "user_id", userID)
	return nil
}
