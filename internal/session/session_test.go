package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/domain"
)

func TestRecentReturnsMostRecentLast(t *testing.T) {
	s := NewStore(3, 5)
	for i := 1; i <= 5; i++ {
		s.Append("u", domain.RoleUser, fmt.Sprintf("msg %d", i))
	}

	turns := s.Recent("u", 10)
	require.Len(t, turns, 3, "bounded by ring capacity")
	assert.Equal(t, "msg 3", turns[0].Text)
	assert.Equal(t, "msg 5", turns[2].Text)

	turns = s.Recent("u", 2)
	require.Len(t, turns, 2)
	assert.Equal(t, "msg 4", turns[0].Text)
	assert.Equal(t, "msg 5", turns[1].Text)

	assert.Empty(t, s.Recent("u", 0))
	assert.Empty(t, s.Recent("nobody", 5))
}

func TestRingBeforeWrap(t *testing.T) {
	r := newTurnRing(4)
	r.push(domain.ConversationTurn{Text: "a"})
	r.push(domain.ConversationTurn{Text: "b"})

	got := r.last(4)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.Equal(t, 4, r.capacity())
}

func TestRecordFeedbackDerivesSkill(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   domain.SkillLevel
	}{
		{"single high", []int{5}, domain.SkillAdvanced},
		{"exactly four", []int{4, 4}, domain.SkillAdvanced},
		{"just under four", []int{4, 4, 3}, domain.SkillIntermediate},
		{"exactly three", []int{3}, domain.SkillIntermediate},
		{"just under three", []int{3, 3, 2}, domain.SkillBeginner},
		{"low", []int{1, 2}, domain.SkillBeginner},
		// Only the last five count: the leading 1s fall out of the window.
		{"window slides", []int{1, 1, 5, 5, 5, 5, 5}, domain.SkillAdvanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(10, 5)
			var got domain.SkillLevel
			for _, score := range tt.scores {
				var err error
				got, err = s.RecordFeedback("u", score)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(s.GetOrCreate("u").Snapshot().FeedbackScores), 5)
		})
	}
}

func TestRecordFeedbackRejectsOutOfRange(t *testing.T) {
	s := NewStore(10, 5)

	_, err := s.RecordFeedback("u", 0)
	assert.ErrorIs(t, err, ErrInvalidScore)
	_, err = s.RecordFeedback("u", 6)
	assert.ErrorIs(t, err, ErrInvalidScore)
	assert.Empty(t, s.GetOrCreate("u").Snapshot().FeedbackScores)
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewStore(10, 5)
	snap := s.GetOrCreate("u").Snapshot()

	assert.Equal(t, domain.SkillBeginner, snap.SkillLevel)
	assert.Equal(t, "detailed", snap.Preferences[PrefCodeStyle])
	assert.Zero(t, snap.AverageScore())
}

func TestPreferencesAndLanguages(t *testing.T) {
	s := NewStore(10, 5)
	st := s.GetOrCreate("u")
	st.SetPreference(PrefCodeStyle, "concise")
	st.AddLanguage("python")
	st.AddLanguage("python")
	st.SetSkill(domain.SkillAdvanced)

	snap := st.Snapshot()
	assert.Equal(t, "concise", snap.Preferences[PrefCodeStyle])
	assert.Equal(t, []string{"python"}, snap.FavoriteLanguages)
	assert.Equal(t, domain.SkillAdvanced, snap.SkillLevel)

	// Snapshots are copies.
	snap.Preferences[PrefCodeStyle] = "mutated"
	assert.Equal(t, "concise", st.Snapshot().Preferences[PrefCodeStyle])
}

func TestGetOrCreateConcurrent(t *testing.T) {
	s := NewStore(10, 5)
	var wg sync.WaitGroup
	handles := make([]*State, 100)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = s.GetOrCreate("same")
			handles[i].Append(domain.RoleUser, "hi", handles[i].Snapshot().CreatedAt)
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 10, s.GetOrCreate("same").Snapshot().TurnCount)
}
