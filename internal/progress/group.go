package progress

import (
	"context"
	"sort"
	"time"

	"github.com/ashureev/codetutor/internal/store"
)

// GroupStats aggregates progress across every stored user.
type GroupStats struct {
	UserCount      int       `json:"user_count"`
	TotalCompleted int       `json:"total_completed"`
	TotalRequested int       `json:"total_requested"`
	MaxLesson      int       `json:"max_lesson"`
	MeanLesson     float64   `json:"mean_lesson"`
	LastActiveUser string    `json:"last_active_user,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
	Users          []Stats   `json:"users"`
}

// GroupStats reads all records from the backend. No progress is held in
// memory, so the stored rows are authoritative.
func (s *Store) GroupStats(ctx context.Context) (GroupStats, error) {
	var records []Stats
	err := store.Retry(ctx, s.attempts, s.baseDelay, func(ctx context.Context) error {
		list, err := s.backend.ListProgress(ctx)
		if err != nil {
			return err
		}
		records = records[:0]
		for _, rec := range list {
			records = append(records, statsOf(rec))
		}
		return nil
	})
	if err != nil {
		return GroupStats{}, &StorageError{Op: "list", UserID: "*", Err: err}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })

	gs := GroupStats{UserCount: len(records), Users: records}
	if gs.Users == nil {
		gs.Users = []Stats{}
	}
	sum := 0
	for _, st := range records {
		gs.TotalCompleted += st.CompletedCount
		gs.TotalRequested += st.TotalRequested
		sum += st.CurrentLesson
		gs.MaxLesson = max(gs.MaxLesson, st.CurrentLesson)
		if st.LastActivity.After(gs.LastActivity) {
			gs.LastActivity = st.LastActivity
			gs.LastActiveUser = st.UserID
		}
	}
	if len(records) > 0 {
		gs.MeanLesson = float64(sum) / float64(len(records))
	}
	return gs, nil
}
