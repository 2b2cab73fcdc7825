// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/codetutor/internal/domain"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("store closed")

// ErrCorruptRecord marks a stored record that was read but cannot be decoded.
// Retrying cannot fix it.
var ErrCorruptRecord = errors.New("corrupt progress record")

// Backend persists progress records and the scheduler cursor. Every method is
// safe for concurrent use. A successful Save* call means the write is durable.
type Backend interface {
	// LoadProgress returns the record for userID, or nil if none exists.
	// An undecodable record is logged and reported as missing.
	LoadProgress(ctx context.Context, userID string) (*domain.ProgressRecord, error)

	// SaveProgress creates or replaces the record for rec.UserID.
	SaveProgress(ctx context.Context, rec domain.ProgressRecord) error

	// ListProgress returns every stored record.
	ListProgress(ctx context.Context) ([]domain.ProgressRecord, error)

	// LoadCursor returns the scheduler cursor, or nil if none was saved.
	LoadCursor(ctx context.Context) (*domain.SchedulerCursor, error)

	// SaveCursor replaces the scheduler cursor.
	SaveCursor(ctx context.Context, cursor domain.SchedulerCursor) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
