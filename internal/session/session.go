// Package session keeps per-user conversational state in memory.
//
// Sessions are not persisted: a process restart resets every user's history,
// skill level and preferences. Durable state belongs in package progress.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// ErrInvalidScore is returned for feedback outside 1..5.
var ErrInvalidScore = errors.New("feedback score must be between 1 and 5")

// Default preference flags for a new session.
const (
	PrefCodeStyle        = "code_style"
	PrefExplanationLevel = "explanation_level"
)

// State is the mutable session of a single user. All access goes through its
// methods, which serialize on the session's own lock.
type State struct {
	mu          sync.Mutex
	userID      string
	history     *turnRing
	skill       domain.SkillLevel
	scores      []int
	scoreWindow int
	prefs       map[string]string
	languages   []string
	createdAt   time.Time
	lastSeen    time.Time
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	UserID            string
	SkillLevel        domain.SkillLevel
	FeedbackScores    []int
	Preferences       map[string]string
	FavoriteLanguages []string
	TurnCount         int
	CreatedAt         time.Time
	LastSeen          time.Time
}

// AverageScore returns the mean feedback score, or 0 with no feedback.
func (s Snapshot) AverageScore() float64 {
	if len(s.FeedbackScores) == 0 {
		return 0
	}
	sum := 0
	for _, v := range s.FeedbackScores {
		sum += v
	}
	return float64(sum) / float64(len(s.FeedbackScores))
}

// Append records a turn in the history ring.
func (s *State) Append(role domain.Role, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.push(domain.ConversationTurn{Role: role, Text: text, At: at})
	s.lastSeen = at
}

// Recent returns up to n of the latest turns, most recent last.
func (s *State) Recent(n int) []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.last(n)
}

// RecordFeedback adds a 1..5 score and re-derives the skill level.
func (s *State) RecordFeedback(score int) (domain.SkillLevel, error) {
	if score < 1 || score > 5 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores = append(s.scores, score)
	if len(s.scores) > s.scoreWindow {
		s.scores = s.scores[len(s.scores)-s.scoreWindow:]
	}
	s.skill = deriveSkill(s.scores)
	return s.skill, nil
}

// Skill returns the current skill level.
func (s *State) Skill() domain.SkillLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skill
}

// SetSkill overrides the derived level until the next feedback.
func (s *State) SetSkill(level domain.SkillLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skill = level
}

// SetPreference sets a free-form preference flag.
func (s *State) SetPreference(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
}

// AddLanguage records interest in a programming language once.
func (s *State) AddLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.languages, lang) {
		s.languages = append(s.languages, lang)
	}
}

// Snapshot copies the session.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := make(map[string]string, len(s.prefs))
	for k, v := range s.prefs {
		prefs[k] = v
	}
	return Snapshot{
		UserID:            s.userID,
		SkillLevel:        s.skill,
		FeedbackScores:    slices.Clone(s.scores),
		Preferences:       prefs,
		FavoriteLanguages: slices.Clone(s.languages),
		TurnCount:         s.history.len(),
		CreatedAt:         s.createdAt,
		LastSeen:          s.lastSeen,
	}
}

// deriveSkill maps the average score to a tier. Integer comparison keeps ties
// on the boundary deterministic: an average of exactly 4 or 3 reaches that tier,
// anything below falls to the lower one.
func deriveSkill(scores []int) domain.SkillLevel {
	if len(scores) == 0 {
		return domain.SkillBeginner
	}
	sum := 0
	for _, v := range scores {
		sum += v
	}
	n := len(scores)
	switch {
	case sum >= 4*n:
		return domain.SkillAdvanced
	case sum >= 3*n:
		return domain.SkillIntermediate
	default:
		return domain.SkillBeginner
	}
}

// Store holds sessions for all users.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*State
	historySize int
	scoreWindow int
	now         func() time.Time
}

// NewStore creates a store with the given history ring size and feedback
// window.
func NewStore(historySize, scoreWindow int) *Store {
	if historySize <= 0 {
		historySize = 10
	}
	if scoreWindow <= 0 {
		scoreWindow = 5
	}
	return &Store{
		sessions:    make(map[string]*State),
		historySize: historySize,
		scoreWindow: scoreWindow,
		now:         time.Now,
	}
}

// GetOrCreate returns the session for userID, creating it on first use.
func (s *Store) GetOrCreate(userID string) *State {
	s.mu.RLock()
	st, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[userID]; ok {
		return st
	}
	now := s.now()
	st = &State{
		userID:      userID,
		history:     newTurnRing(s.historySize),
		skill:       domain.SkillBeginner,
		scoreWindow: s.scoreWindow,
		prefs: map[string]string{
			PrefCodeStyle:        "detailed",
			PrefExplanationLevel: "medium",
		},
		createdAt: now,
		lastSeen:  now,
	}
	s.sessions[userID] = st
	return st
}

// Append records a turn for userID.
func (s *Store) Append(userID string, role domain.Role, text string) {
	s.GetOrCreate(userID).Append(role, text, s.now())
}

// Recent returns up to n of userID's latest turns, most recent last.
func (s *Store) Recent(userID string, n int) []domain.ConversationTurn {
	return s.GetOrCreate(userID).Recent(n)
}

// RecordFeedback adds a score for userID and returns the new skill level.
func (s *Store) RecordFeedback(userID string, score int) (domain.SkillLevel, error) {
	return s.GetOrCreate(userID).RecordFeedback(score)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
