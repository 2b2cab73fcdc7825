// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendSheets = "sheets"
)

// Limits are compile-time thresholds for the session core. They are not
// exposed through the environment.
var Limits = struct {
	MessagesPerWindow int
	LessonsPerWindow  int
	Window            time.Duration
	CacheCapacity     int
	HistorySize       int
	FeedbackWindow    int
}{
	MessagesPerWindow: 10,
	LessonsPerWindow:  1,
	Window:            time.Minute,
	CacheCapacity:     100,
	HistorySize:       10,
	FeedbackWindow:    5,
}

// Config holds all application configuration.
type Config struct {
	Port           string
	AdminUserIDs   []string
	AllowedOrigins []string
	LessonsPath    string
	Storage        StorageConfig
	Scheduler      SchedulerConfig
	Telegram       TelegramConfig
	LLM            LLMConfig
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend           string
	StatePath         string
	SheetsCredentials string
	SheetsSpreadsheet string
}

// SchedulerConfig controls the periodic lesson publisher.
type SchedulerConfig struct {
	Enabled      bool
	PeriodDays   int
	StartupDelay time.Duration
	Timezone     string
	Location     *time.Location
}

// Period returns the interval between publications.
func (s SchedulerConfig) Period() time.Duration {
	return time.Duration(s.PeriodDays) * 24 * time.Hour
}

// TelegramConfig holds Bot API credentials for the group feed.
type TelegramConfig struct {
	Token  string
	ChatID string
	APIURL string
}

// LLMConfig configures the OpenAI-compatible answer backend.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	MaxRPS  float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AdminUserIDs:   getEnvList("ADMIN_USER_IDS"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		LessonsPath:    getEnv("LESSONS_PATH", ""),
		Storage: StorageConfig{
			Backend:           strings.ToLower(getEnv("STORAGE_BACKEND", BackendSQLite)),
			StatePath:         getEnv("STATE_PATH", "./data/tutor.db"),
			SheetsCredentials: getEnv("SHEETS_CREDENTIALS", ""),
			SheetsSpreadsheet: getEnv("SHEETS_SPREADSHEET_ID", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getEnvBool("SCHEDULER_ENABLED", false),
			PeriodDays:   getEnvInt("PERIOD_DAYS", 4),
			StartupDelay: getEnvDuration("SCHEDULER_STARTUP_DELAY", 5*time.Second),
			Timezone:     getEnv("TIMEZONE", "Europe/Minsk"),
		},
		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: getEnv("CHAT_ID", ""),
			APIURL: getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "openai/gpt-oss-20b"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxRPS:  getEnvFloat("LLM_MAX_RPS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendFile:
		if c.Storage.StatePath == "" {
			return fmt.Errorf("STATE_PATH cannot be empty")
		}
	case BackendSheets:
		if c.Storage.SheetsSpreadsheet == "" {
			return fmt.Errorf("SHEETS_SPREADSHEET_ID is required for the sheets backend")
		}
		if c.Storage.StatePath == "" {
			return fmt.Errorf("STATE_PATH cannot be empty (used as local fallback)")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of sqlite, file, sheets; got %q", c.Storage.Backend)
	}
	if c.Scheduler.PeriodDays < 1 {
		return fmt.Errorf("PERIOD_DAYS must be >= 1")
	}
	if c.Scheduler.StartupDelay < 0 {
		return fmt.Errorf("SCHEDULER_STARTUP_DELAY must be >= 0")
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}
	c.Scheduler.Location = loc
	if c.Scheduler.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("TELEGRAM_TOKEN and CHAT_ID are required when SCHEDULER_ENABLED is set")
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.MaxRPS <= 0 {
		return fmt.Errorf("LLM_MAX_RPS must be > 0")
	}
	return nil
}

// IsAdmin reports whether userID is on the static admin allow-list.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
