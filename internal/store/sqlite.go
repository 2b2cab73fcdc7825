package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS progress (
		user_id TEXT PRIMARY KEY,
		current_lesson INTEGER NOT NULL DEFAULT 0,
		completed_json TEXT NOT NULL DEFAULT '[]',
		started_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		total_requested INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_progress_activity ON progress(last_activity);

	CREATE TABLE IF NOT EXISTS scheduler_cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		lesson_index INTEGER NOT NULL,
		last_updated INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadProgress retrieves the progress record for a user.
func (s *SQLiteStore) LoadProgress(ctx context.Context, userID string) (*domain.ProgressRecord, error) {
	query := `
		SELECT user_id, current_lesson, completed_json,
		       started_at, last_activity, total_requested
		FROM progress WHERE user_id = ?`

	rec, err := scanProgress(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if errors.Is(err, ErrCorruptRecord) {
		slog.Error("Unreadable progress row, starting user over", "user_id", userID, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress row: %w", err)
	}
	return rec, nil
}

// SaveProgress creates or updates a progress record.
func (s *SQLiteStore) SaveProgress(ctx context.Context, rec domain.ProgressRecord) error {
	completed, err := json.Marshal(rec.Clone().Completed)
	if err != nil {
		return fmt.Errorf("marshal completed lessons: %w", err)
	}

	query := `
	INSERT INTO progress (user_id, current_lesson, completed_json, started_at, last_activity, total_requested)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		current_lesson = excluded.current_lesson,
		completed_json = excluded.completed_json,
		started_at = excluded.started_at,
		last_activity = excluded.last_activity,
		total_requested = excluded.total_requested`

	_, err = s.db.ExecContext(ctx, query,
		rec.UserID, rec.CurrentLesson, string(completed),
		rec.StartedAt.UnixNano(), rec.LastActivity.UnixNano(), rec.TotalRequested,
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// ListProgress returns all progress records. Rows that cannot be decoded are
// logged and skipped.
func (s *SQLiteStore) ListProgress(ctx context.Context) ([]domain.ProgressRecord, error) {
	query := `
		SELECT user_id, current_lesson, completed_json,
		       started_at, last_activity, total_requested
		FROM progress ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close progress rows", "error", closeErr)
		}
	}()

	var records []domain.ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			slog.Error("Skipping unreadable progress row", "error", err)
			continue
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanProgress reads columns as raw driver values so that a query failure and
// a malformed stored value stay distinguishable. The latter wraps
// ErrCorruptRecord.
func scanProgress(row rowScanner) (*domain.ProgressRecord, error) {
	var userID, current, completedJSON, startedAt, lastActivity, total any
	if err := row.Scan(&userID, &current, &completedJSON, &startedAt, &lastActivity, &total); err != nil {
		return nil, err
	}

	rec := &domain.ProgressRecord{UserID: columnText(userID)}
	var err error
	if rec.CurrentLesson, err = columnInt(current); err != nil {
		return nil, fmt.Errorf("%w: user %s current_lesson: %v", ErrCorruptRecord, rec.UserID, err)
	}
	if rec.TotalRequested, err = columnInt(total); err != nil {
		return nil, fmt.Errorf("%w: user %s total_requested: %v", ErrCorruptRecord, rec.UserID, err)
	}
	started, err := columnInt(startedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s started_at: %v", ErrCorruptRecord, rec.UserID, err)
	}
	last, err := columnInt(lastActivity)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s last_activity: %v", ErrCorruptRecord, rec.UserID, err)
	}

	if err := json.Unmarshal([]byte(columnText(completedJSON)), &rec.Completed); err != nil {
		slog.Error("Corrupt completed lessons, resetting to empty", "user_id", rec.UserID, "error", err)
		rec.Completed = nil
	}
	if rec.Completed == nil {
		rec.Completed = []int{}
	}
	rec.StartedAt = time.Unix(0, int64(started))
	rec.LastActivity = time.Unix(0, int64(last))
	return rec, nil
}

func columnText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func columnInt(v any) (int, error) {
	switch x := v.(type) {
	case int64:
		return int(x), nil
	case string, []byte:
		return strconv.Atoi(columnText(x))
	default:
		return 0, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}

// LoadCursor retrieves the scheduler cursor.
func (s *SQLiteStore) LoadCursor(ctx context.Context) (*domain.SchedulerCursor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT lesson_index, last_updated FROM scheduler_cursor WHERE id = 1`)

	var cursor domain.SchedulerCursor
	var lastUpdated int64
	err := row.Scan(&cursor.LessonIndex, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduler cursor: %w", err)
	}
	cursor.LastUpdated = time.Unix(0, lastUpdated)
	return &cursor, nil
}

// SaveCursor replaces the scheduler cursor.
func (s *SQLiteStore) SaveCursor(ctx context.Context, cursor domain.SchedulerCursor) error {
	query := `
	INSERT INTO scheduler_cursor (id, lesson_index, last_updated) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		lesson_index = excluded.lesson_index,
		last_updated = excluded.last_updated`

	if _, err := s.db.ExecContext(ctx, query, cursor.LessonIndex, cursor.LastUpdated.UnixNano()); err != nil {
		return fmt.Errorf("upsert scheduler cursor: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
