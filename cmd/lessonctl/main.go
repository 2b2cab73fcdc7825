// Package main provides lessonctl, an admin CLI over the tutor's progress
// storage and lesson catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/lesson"
	"github.com/ashureev/codetutor/internal/progress"
	"github.com/ashureev/codetutor/internal/store"
)

const commandTimeout = 30 * time.Second

type app struct {
	backendName string
	statePath   string
	lessonsPath string

	cfg *config.Config
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "lessonctl",
		Short:         "Inspect and manage tutor lesson progress",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.backendName, "backend", "", "storage backend: sqlite, file or sheets (default from STORAGE_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&a.statePath, "state", "", "state path for sqlite or file (default from STATE_PATH)")
	rootCmd.PersistentFlags().StringVar(&a.lessonsPath, "lessons", "", "TOML lesson tables (default from LESSONS_PATH, else built-in)")

	rootCmd.AddCommand(a.newStatsCmd())
	rootCmd.AddCommand(a.newResetCmd())
	rootCmd.AddCommand(a.newGroupCmd())
	rootCmd.AddCommand(a.newCursorCmd())
	rootCmd.AddCommand(a.newLessonCmd())

	return rootCmd
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Storage.Backend = a.backendName
	}
	if cmd.Flags().Changed("state") {
		cfg.Storage.StatePath = a.statePath
	}
	if cmd.Flags().Changed("lessons") {
		cfg.LessonsPath = a.lessonsPath
	}
	a.cfg = cfg
	return nil
}

// withBackend opens the configured storage for the duration of fn.
func (a *app) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b store.Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	b, _, err := store.Open(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()
	return fn(ctx, b)
}

func (a *app) catalog() (*lesson.Catalog, error) {
	if a.cfg.LessonsPath == "" {
		return lesson.Default(), nil
	}
	return lesson.LoadFile(a.cfg.LessonsPath)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user>",
		Short: "Show one user's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b store.Backend) error {
				stats, err := progress.New(b).Stats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func (a *app) newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user>",
		Short: "Reset a user to lesson 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b store.Backend) error {
				if err := progress.New(b).Reset(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
				return err
			})
		},
	}
}

func (a *app) newGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group",
		Short: "Show aggregate progress over all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b store.Backend) error {
				stats, err := progress.New(b).GroupStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func (a *app) newCursorCmd() *cobra.Command {
	cursorCmd := &cobra.Command{
		Use:   "cursor",
		Short: "Show the group scheduler cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b store.Backend) error {
				c, err := b.LoadCursor(ctx)
				if err != nil {
					return err
				}
				if c == nil {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "cursor 0 (never published)")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "cursor %d (updated %s)\n", c.LessonIndex, c.LastUpdated.Format(time.RFC3339))
				return err
			})
		},
	}

	cursorCmd.AddCommand(&cobra.Command{
		Use:   "set <n>",
		Short: "Move the group scheduler cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("cursor must be a non-negative integer, got %q", args[0])
			}
			return a.withBackend(cmd, func(ctx context.Context, b store.Backend) error {
				if err := b.SaveCursor(ctx, domain.SchedulerCursor{LessonIndex: n, LastUpdated: time.Now()}); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "cursor set to %d\n", n)
				return err
			})
		},
	})
	return cursorCmd
}

func (a *app) newLessonCmd() *cobra.Command {
	var raw bool
	lessonCmd := &cobra.Command{
		Use:   "lesson <index>",
		Short: "Preview the lesson derived for an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be an integer, got %q", args[0])
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			l, err := cat.At(index)
			if err != nil {
				return err
			}
			if !raw {
				return printJSON(cmd.OutOrStdout(), l)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), lesson.Render(l, time.Now(), a.cfg.Scheduler.Location))
			return err
		},
	}
	lessonCmd.Flags().BoolVar(&raw, "render", false, "print the rendered Telegram message instead of JSON")
	return lessonCmd
}
