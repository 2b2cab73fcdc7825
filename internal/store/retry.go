package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Retry defaults: 3 attempts at 100ms, 200ms backoff.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 100 * time.Millisecond
)

// IsBusyError reports whether err is an SQLite BUSY or "database is locked"
// error. These are concurrency conflicts that warrant a retry.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Retry runs op up to attempts times with exponential backoff starting at
// base. Context cancellation stops retrying immediately.
func Retry(ctx context.Context, attempts int, base time.Duration, op func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := base * time.Duration(1<<i)
		slog.Debug("Storage operation failed, retrying",
			"attempt", i+1,
			"delay", delay,
			"busy", IsBusyError(err),
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
