package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL       string
	LogLevel          string
	Environment       string
	HTTPAddr          string
	WebhookSecret     string
	TelegramToken     string // empty disables the review bot
	AdminTelegramID   int64
	ReviewerChatID    int64
	CronSpecAutopilot string
	CronSpecExpiry    string

	OracleProvider  string // anthropic or openai
	OracleModel     string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	OrganizerFeeds      map[string]string // organizer email -> ICS feed URL
	MeetingLinkTemplate string

	Policy scheduling.Policy
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(withDefault(getenv("LOG_LEVEL"), "info"))
	cfg.Environment = strings.ToLower(withDefault(getenv("ENVIRONMENT"), "development"))
	cfg.HTTPAddr = withDefault(getenv("HTTP_ADDR"), ":8080")
	cfg.WebhookSecret = getenv("WEBHOOK_SECRET")
	cfg.CronSpecAutopilot = withDefault(getenv("CRON_SPEC_AUTOPILOT"), "*/5 * * * *")
	cfg.CronSpecExpiry = withDefault(getenv("CRON_SPEC_EXPIRY"), "0 3 * * *")

	cfg.TelegramToken = getenv("TELEGRAM_TOKEN")
	if cfg.AdminTelegramID, err = parseInt64(getenv, "ADMIN_TELEGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.ReviewerChatID, err = parseInt64(getenv, "REVIEWER_CHAT_ID"); err != nil {
		return nil, err
	}
	if cfg.ReviewerChatID == 0 {
		cfg.ReviewerChatID = cfg.AdminTelegramID
	}
	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}

	cfg.OracleProvider = strings.ToLower(withDefault(getenv("ORACLE_PROVIDER"), "anthropic"))
	cfg.OracleModel = getenv("ORACLE_MODEL")
	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	switch cfg.OracleProvider {
	case "anthropic", "openai":
	default:
		return nil, fmt.Errorf("invalid ORACLE_PROVIDER %q: want anthropic or openai", cfg.OracleProvider)
	}

	if cfg.OrganizerFeeds, err = parseFeeds(getenv("ORGANIZER_ICS_FEEDS")); err != nil {
		return nil, err
	}
	cfg.MeetingLinkTemplate = getenv("MEETING_LINK_TEMPLATE")

	if cfg.Policy, err = parsePolicy(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePolicy(getenv func(string) string) (scheduling.Policy, error) {
	p := scheduling.DefaultPolicy()
	var err error
	floats := []struct {
		key string
		dst *float64
	}{
		{"AUTO_ACCEPT_MIN", &p.AutoAcceptMin},
		{"AUTO_COUNTER_MIN", &p.AutoCounterMin},
	}
	for _, f := range floats {
		if v := getenv(f.key); v != "" {
			if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
				return p, fmt.Errorf("invalid %s: %w", f.key, err)
			}
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_COUNTER_ROUNDS", &p.MaxCounterRounds},
		{"MAX_BOOKING_ATTEMPTS", &p.MaxBookingAttempts},
		{"MAX_EXTERNAL_RETRIES", &p.MaxExternalRetries},
		{"BATCH_LIMIT", &p.BatchLimit},
		{"BATCH_CONCURRENCY", &p.BatchConcurrency},
	}
	for _, i := range ints {
		if v := getenv(i.key); v != "" {
			if *i.dst, err = strconv.Atoi(v); err != nil {
				return p, fmt.Errorf("invalid %s: %w", i.key, err)
			}
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STAGE_TIMEOUT", &p.StageTimeout},
		{"REMINDER_LEAD", &p.ReminderLead},
		{"MATCH_EXPIRY_WINDOW", &p.MatchExpiryWindow},
	}
	for _, d := range durations {
		if v := getenv(d.key); v != "" {
			if *d.dst, err = time.ParseDuration(v); err != nil {
				return p, fmt.Errorf("invalid %s: %w", d.key, err)
			}
		}
	}
	if v := getenv("DECLINE_POLICY"); v != "" {
		p.DeclinePolicy = scheduling.DeclinePolicy(strings.ToLower(v))
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// parseFeeds reads "email=url;email=url".
func parseFeeds(raw string) (map[string]string, error) {
	feeds := make(map[string]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		email, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(email) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid ORGANIZER_ICS_FEEDS entry %q", entry)
		}
		feeds[strings.ToLower(strings.TrimSpace(email))] = strings.TrimSpace(url)
	}
	return feeds, nil
}

func parseInt64(getenv func(string) string, key string) (int64, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
