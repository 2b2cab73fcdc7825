// Package domain contains core domain types for the tutor bot.
package domain

import (
	"slices"
	"time"
)

// ProgressRecord tracks one user's position in the lesson course.
type ProgressRecord struct {
	UserID         string    `json:"user_id"`
	CurrentLesson  int       `json:"current_lesson"`
	Completed      []int     `json:"completed_lessons"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	TotalRequested int       `json:"total_requested"`
}

// NewProgressRecord returns a zeroed record for a user starting at lesson 0.
func NewProgressRecord(userID string, now time.Time) ProgressRecord {
	return ProgressRecord{
		UserID:       userID,
		Completed:    []int{},
		StartedAt:    now,
		LastActivity: now,
	}
}

// MarkCompleted adds index to the completed set. Returns false if it was already present.
func (p *ProgressRecord) MarkCompleted(index int) bool {
	if slices.Contains(p.Completed, index) {
		return false
	}
	p.Completed = append(p.Completed, index)
	return true
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (p ProgressRecord) Clone() ProgressRecord {
	p.Completed = slices.Clone(p.Completed)
	if p.Completed == nil {
		p.Completed = []int{}
	}
	return p
}

// SchedulerCursor is the shared pointer to the next lesson broadcast to the group.
type SchedulerCursor struct {
	LessonIndex int       `json:"lesson_index"`
	LastUpdated time.Time `json:"last_updated"`
}
