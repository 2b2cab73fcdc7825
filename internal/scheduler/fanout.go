package scheduler

import (
	"context"
	"log/slog"
)

// Mirror receives a copy of every post the primary publisher accepted.
type Mirror interface {
	Mirror(ctx context.Context, post Post) error
}

// FanOut publishes through a primary Publisher and then copies the post to
// each mirror. Only the primary decides success; mirror errors are logged.
type FanOut struct {
	primary Publisher
	mirrors []Mirror
	logger  *slog.Logger
}

// NewFanOut wraps primary with best-effort mirrors.
func NewFanOut(primary Publisher, logger *slog.Logger, mirrors ...Mirror) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish delivers post to the primary, then to each mirror.
func (f *FanOut) Publish(ctx context.Context, post Post) (MessageRef, error) {
	ref, err := f.primary.Publish(ctx, post)
	if err != nil {
		return MessageRef{}, err
	}
	for _, m := range f.mirrors {
		if err := m.Mirror(ctx, post); err != nil {
			f.logger.Warn("Lesson mirror failed",
				"lesson_index", post.Lesson.Index,
				"error", err)
		}
	}
	return ref, nil
}

// Pin pins through the primary.
func (f *FanOut) Pin(ctx context.Context, ref MessageRef) error {
	return f.primary.Pin(ctx, ref)
}
