package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ashureev/codetutor/internal/domain"
)

const (
	progressSheet = "progress"
	cursorSheet   = "cursor"
)

var (
	progressHeader = []any{"user_id", "current_lesson", "completed_lessons", "started_at", "last_activity", "total_requested"}
	rowSuffix      = regexp.MustCompile(`(\d+)$`)
)

// SheetsStore implements Backend on a Google Sheets spreadsheet. The
// "progress" tab holds one row per user below a header row; the "cursor" tab
// holds the scheduler cursor in A1:B1.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string

	mu    sync.Mutex     // serializes writes and guards rows
	rows  map[string]int // user_id -> 1-based sheet row
	stale bool           // rows may miss an appended user
}

// NewSheets connects to the spreadsheet. credentials may be a path to a
// service-account key file or the key JSON itself. Extra options are appended
// after the credentials option.
func NewSheets(ctx context.Context, spreadsheetID, credentials string, opts ...option.ClientOption) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}

	var clientOpts []option.ClientOption
	switch {
	case strings.HasPrefix(strings.TrimSpace(credentials), "{"):
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(credentials)))
	case credentials != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentials))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	s := &SheetsStore{svc: svc, spreadsheetID: spreadsheetID, rows: make(map[string]int)}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reindexLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reindexLocked rebuilds the user to row map, writing the header row into an
// empty sheet. Caller holds mu.
func (s *SheetsStore) reindexLocked(ctx context.Context) error {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, progressSheet+"!A1:A").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read progress index: %w", err)
	}

	if len(resp.Values) == 0 {
		hdr := &sheets.ValueRange{Values: [][]any{progressHeader}}
		if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, progressSheet+"!A1:F1", hdr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("write progress header: %w", err)
		}
		return nil
	}
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		if id := fmt.Sprint(row[0]); id != "" {
			s.rows[id] = i + 1
		}
	}
	return nil
}

// Ping fetches spreadsheet metadata.
func (s *SheetsStore) Ping(ctx context.Context) error {
	if _, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets ping: %w", err)
	}
	return nil
}

// LoadProgress reads the user's row.
func (s *SheetsStore) LoadProgress(ctx context.Context, userID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	if err := s.refreshLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	row, ok := s.rows[userID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	rng := fmt.Sprintf("%s!A%d:F%d", progressSheet, row, row)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read progress row: %w", err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	rec, err := decodeProgressRow(resp.Values[0])
	if err != nil {
		slog.Error("Unreadable sheet row, starting user over", "user_id", userID, "row", row, "error", err)
		return nil, nil
	}
	return rec, nil
}

// SaveProgress updates the user's row, appending one for a new user.
func (s *SheetsStore) SaveProgress(ctx context.Context, rec domain.ProgressRecord) error {
	values, err := encodeProgressRow(rec)
	if err != nil {
		return err
	}
	vr := &sheets.ValueRange{Values: [][]any{values}}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(ctx); err != nil {
		return err
	}
	if row, ok := s.rows[rec.UserID]; ok {
		rng := fmt.Sprintf("%s!A%d:F%d", progressSheet, row, row)
		if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("update progress row: %w", err)
		}
		return nil
	}

	resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, progressSheet+"!A:F", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append progress row: %w", err)
	}
	if resp.Updates != nil {
		if row, ok := parseUpdatedRow(resp.Updates.UpdatedRange); ok {
			s.rows[rec.UserID] = row
			return nil
		}
	}
	// The row is written; a failed reindex must not make callers append again.
	slog.Warn("Could not determine appended sheet row, reindexing", "user_id", rec.UserID)
	if err := s.reindexLocked(ctx); err != nil {
		s.stale = true
		slog.Error("Failed to reindex progress sheet after append", "user_id", rec.UserID, "error", err)
	}
	return nil
}

// refreshLocked retries a reindex that failed after an append, so a user
// whose row exists is never appended twice. Caller holds mu.
func (s *SheetsStore) refreshLocked(ctx context.Context) error {
	if !s.stale {
		return nil
	}
	if err := s.reindexLocked(ctx); err != nil {
		return err
	}
	s.stale = false
	return nil
}

// ListProgress reads every row. Rows that fail to decode are logged and skipped.
func (s *SheetsStore) ListProgress(ctx context.Context) ([]domain.ProgressRecord, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, progressSheet+"!A2:F").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read progress sheet: %w", err)
	}
	records := make([]domain.ProgressRecord, 0, len(resp.Values))
	for i, row := range resp.Values {
		rec, err := decodeProgressRow(row)
		if err != nil {
			slog.Error("Skipping unreadable sheet row", "row", i+2, "error", err)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// LoadCursor reads cursor!A1:B1.
func (s *SheetsStore) LoadCursor(ctx context.Context) (*domain.SchedulerCursor, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, cursorSheet+"!A1:B1").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return nil, nil
	}
	row := resp.Values[0]
	idx, err := strconv.Atoi(fmt.Sprint(row[0]))
	if err != nil {
		return nil, fmt.Errorf("parse cursor index: %w", err)
	}
	cursor := &domain.SchedulerCursor{LessonIndex: idx}
	if len(row) > 1 {
		cursor.LastUpdated, _ = time.Parse(time.RFC3339Nano, fmt.Sprint(row[1]))
	}
	return cursor, nil
}

// SaveCursor writes cursor!A1:B1.
func (s *SheetsStore) SaveCursor(ctx context.Context, cursor domain.SchedulerCursor) error {
	vr := &sheets.ValueRange{Values: [][]any{{cursor.LessonIndex, cursor.LastUpdated.UTC().Format(time.RFC3339Nano)}}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cursorSheet+"!A1:B1", vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// Close is a no-op; the HTTP client has no resources to release.
func (s *SheetsStore) Close() error { return nil }

func encodeProgressRow(rec domain.ProgressRecord) ([]any, error) {
	completed, err := json.Marshal(rec.Clone().Completed)
	if err != nil {
		return nil, fmt.Errorf("marshal completed lessons: %w", err)
	}
	return []any{
		rec.UserID,
		rec.CurrentLesson,
		string(completed),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.LastActivity.UTC().Format(time.RFC3339Nano),
		rec.TotalRequested,
	}, nil
}

func decodeProgressRow(row []any) (*domain.ProgressRecord, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("expected 6 columns, got %d", len(row))
	}
	cell := func(i int) string { return fmt.Sprint(row[i]) }

	rec := &domain.ProgressRecord{UserID: cell(0)}
	var err error
	if rec.CurrentLesson, err = strconv.Atoi(cell(1)); err != nil {
		return nil, fmt.Errorf("current_lesson: %w", err)
	}
	if err := json.Unmarshal([]byte(cell(2)), &rec.Completed); err != nil {
		return nil, fmt.Errorf("completed_lessons: %w", err)
	}
	if rec.Completed == nil {
		rec.Completed = []int{}
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, cell(3)); err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	if rec.LastActivity, err = time.Parse(time.RFC3339Nano, cell(4)); err != nil {
		return nil, fmt.Errorf("last_activity: %w", err)
	}
	if rec.TotalRequested, err = strconv.Atoi(cell(5)); err != nil {
		return nil, fmt.Errorf("total_requested: %w", err)
	}
	return rec, nil
}

// parseUpdatedRow extracts the row from an A1 range such as "progress!A7:F7".
func parseUpdatedRow(rng string) (int, bool) {
	m := rowSuffix.FindStringSubmatch(rng)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
