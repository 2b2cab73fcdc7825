package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/ashureev/codetutor/internal/domain"
)

// fileState is the on-disk JSON layout.
type fileState struct {
	Progress map[string]domain.ProgressRecord `json:"progress"`
	Cursor   *domain.SchedulerCursor          `json:"cursor,omitempty"`
}

// FileStore implements Backend with a single JSON document. Every save
// rewrites the document through a temp file and rename, so a crash mid-write
// leaves the previous version intact.
type FileStore struct {
	path string

	mu     sync.Mutex
	state  fileState
	closed bool
}

// NewFile opens the JSON state file at path. A missing file starts empty. A
// file that cannot be parsed is moved aside to <path>.corrupt-<unix> and the
// store starts empty.
func NewFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	fs := &FileStore{
		path:  path,
		state: fileState{Progress: make(map[string]domain.ProgressRecord)},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var loaded fileState
	if err := json.Unmarshal(data, &loaded); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		slog.Error("State file is corrupt, starting with empty state",
			"path", path,
			"moved_to", quarantine,
			"error", err)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			slog.Warn("Failed to move corrupt state file aside", "path", path, "error", renameErr)
		}
		return fs, nil
	}

	if loaded.Progress != nil {
		for id, rec := range loaded.Progress {
			rec.UserID = id
			fs.state.Progress[id] = rec.Clone()
		}
	}
	fs.state.Cursor = loaded.Cursor
	return fs, nil
}

// flushLocked writes the current state atomically. Caller holds mu.
func (f *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// LoadProgress returns the record for userID, or nil if none exists.
func (f *FileStore) LoadProgress(_ context.Context, userID string) (*domain.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	rec, ok := f.state.Progress[userID]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

// SaveProgress stores rec and flushes the file. On a failed flush the
// in-memory copy is restored so it keeps matching disk.
func (f *FileStore) SaveProgress(_ context.Context, rec domain.ProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	prev, existed := f.state.Progress[rec.UserID]
	f.state.Progress[rec.UserID] = rec.Clone()
	if err := f.flushLocked(); err != nil {
		if existed {
			f.state.Progress[rec.UserID] = prev
		} else {
			delete(f.state.Progress, rec.UserID)
		}
		return err
	}
	return nil
}

// ListProgress returns every record ordered by user ID.
func (f *FileStore) ListProgress(_ context.Context) ([]domain.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	out := make([]domain.ProgressRecord, 0, len(f.state.Progress))
	for _, rec := range f.state.Progress {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// LoadCursor returns the scheduler cursor, or nil if none was saved.
func (f *FileStore) LoadCursor(_ context.Context) (*domain.SchedulerCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.state.Cursor == nil {
		return nil, nil
	}
	c := *f.state.Cursor
	return &c, nil
}

// SaveCursor replaces the scheduler cursor and flushes the file.
func (f *FileStore) SaveCursor(_ context.Context, cursor domain.SchedulerCursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	prev := f.state.Cursor
	f.state.Cursor = &cursor
	if err := f.flushLocked(); err != nil {
		f.state.Cursor = prev
		return err
	}
	return nil
}

// Ping checks that the state directory is still writable.
func (f *FileStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("stat state directory: %w", err)
	}
	return nil
}

// Close marks the store closed. State is already on disk.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
