package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"

	"github.com/ashureev/codetutor/internal/config"
)

const remoteInitTimeout = 15 * time.Second

// Open constructs the backend selected by cfg and returns it with the name of
// the backend actually in use. If the sheets backend cannot be initialized the
// error is logged and Open falls back to SQLite at cfg.StatePath. Extra options
// are passed to the sheets client.
func Open(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (Backend, string, error) {
	switch cfg.Backend {
	case config.BackendFile:
		fs, err := NewFile(cfg.StatePath)
		if err != nil {
			return nil, "", err
		}
		return fs, config.BackendFile, nil

	case config.BackendSheets:
		initCtx, cancel := context.WithTimeout(ctx, remoteInitTimeout)
		defer cancel()
		ss, err := NewSheets(initCtx, cfg.SheetsSpreadsheet, cfg.SheetsCredentials, opts...)
		if err == nil {
			return ss, config.BackendSheets, nil
		}
		slog.Error("Remote storage unavailable, falling back to local SQLite",
			"backend", cfg.Backend,
			"state_path", cfg.StatePath,
			"error", err)
		fallthrough

	case config.BackendSQLite:
		db, err := NewSQLite(cfg.StatePath)
		if err != nil {
			return nil, "", err
		}
		return db, config.BackendSQLite, nil

	default:
		return nil, "", fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
