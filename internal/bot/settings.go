package bot

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/session"
)

// ErrInvalidSetting is returned when a settings update carries an unknown value.
var ErrInvalidSetting = errors.New("invalid setting")

var (
	codeStyles        = []string{"concise", "detailed", "beginner"}
	explanationLevels = []string{"basic", "medium", "advanced"}
)

// languageKeywords maps a tracked language to the words that signal it.
// The first matching language wins.
var languageKeywords = []struct {
	lang  string
	words []string
}{
	{"javascript", []string{"javascript", "js", "джаваскрипт"}},
	{"python", []string{"python", "питон", "пайтон"}},
}

// Settings is the user-facing view of a session's preferences.
type Settings struct {
	UserID            string            `json:"user_id"`
	SkillLevel        domain.SkillLevel `json:"skill_level"`
	CodeStyle         string            `json:"code_style"`
	ExplanationLevel  string            `json:"explanation_level"`
	FavoriteLanguages []string          `json:"favorite_languages"`
	AverageScore      float64           `json:"average_score"`
	Turns             int               `json:"turns"`
}

// SettingsUpdate changes any non-empty field of a user's settings.
type SettingsUpdate struct {
	SkillLevel       string `json:"skill_level"`
	CodeStyle        string `json:"code_style"`
	ExplanationLevel string `json:"explanation_level"`
}

// Settings returns the user's current settings.
func (s *Service) Settings(userID string) Settings {
	return settingsOf(s.sessions.GetOrCreate(userID).Snapshot())
}

// UpdateSettings validates every field before applying any of them.
func (s *Service) UpdateSettings(userID string, u SettingsUpdate) (Settings, error) {
	var level domain.SkillLevel
	if u.SkillLevel != "" {
		l, ok := domain.ParseSkillLevel(u.SkillLevel)
		if !ok {
			return Settings{}, fmt.Errorf("%w: skill_level %q", ErrInvalidSetting, u.SkillLevel)
		}
		level = l
	}
	if u.CodeStyle != "" && !slices.Contains(codeStyles, u.CodeStyle) {
		return Settings{}, fmt.Errorf("%w: code_style %q", ErrInvalidSetting, u.CodeStyle)
	}
	if u.ExplanationLevel != "" && !slices.Contains(explanationLevels, u.ExplanationLevel) {
		return Settings{}, fmt.Errorf("%w: explanation_level %q", ErrInvalidSetting, u.ExplanationLevel)
	}

	sess := s.sessions.GetOrCreate(userID)
	if level != "" {
		sess.SetSkill(level)
	}
	if u.CodeStyle != "" {
		sess.SetPreference(session.PrefCodeStyle, u.CodeStyle)
	}
	if u.ExplanationLevel != "" {
		sess.SetPreference(session.PrefExplanationLevel, u.ExplanationLevel)
	}
	s.logger.Info("Settings updated", "user_id", userID,
		"skill_level", u.SkillLevel, "code_style", u.CodeStyle, "explanation_level", u.ExplanationLevel)
	return settingsOf(sess.Snapshot()), nil
}

func settingsOf(snap session.Snapshot) Settings {
	langs := snap.FavoriteLanguages
	if langs == nil {
		langs = []string{}
	}
	return Settings{
		UserID:            snap.UserID,
		SkillLevel:        snap.SkillLevel,
		CodeStyle:         snap.Preferences[session.PrefCodeStyle],
		ExplanationLevel:  snap.Preferences[session.PrefExplanationLevel],
		FavoriteLanguages: langs,
		AverageScore:      snap.AverageScore(),
		Turns:             snap.TurnCount,
	}
}

// detectLanguage returns the language a question mentions, or "".
func detectLanguage(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'а' && r <= 'я' || r == 'ё')
	})
	for _, lk := range languageKeywords {
		for _, f := range fields {
			if slices.Contains(lk.words, f) {
				return lk.lang
			}
		}
	}
	return ""
}
