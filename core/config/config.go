package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// BotConfig carries access and session policy for the banner bot.
type BotConfig struct {
	OwnerID       int64  `yaml:"owner_id" envconfig:"OWNER_USER_ID"`
	OwnerUsername string `yaml:"owner_username" envconfig:"OWNER_USERNAME"`
	// DailyLimit is the number of generations a non-owner may run per day.
	DailyLimit int `yaml:"daily_limit" envconfig:"BOT_DAILY_LIMIT"`
	// SessionTTLSeconds bounds conversation idleness before expiry.
	SessionTTLSeconds int `yaml:"session_ttl_seconds" envconfig:"BOT_SESSION_TTL_SECONDS"`
	// UsersPageSize controls pagination of the admin user list.
	UsersPageSize int `yaml:"users_page_size" envconfig:"BOT_USERS_PAGE_SIZE"`
	// TempDir receives downloaded images; empty means os.TempDir.
	TempDir string `yaml:"temp_dir" envconfig:"BOT_TEMP_DIR"`
}

// SessionTTL returns the configured idle window as a duration.
func (b BotConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLSeconds) * time.Second
}

// GenerationConfig configures the image generation backend.
type GenerationConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"GEN_BASE_URL"`
	APIKey         string `yaml:"api_key" envconfig:"GEN_API_KEY"`
	Model          string `yaml:"model" envconfig:"GEN_MODEL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"GEN_TIMEOUT_SECONDS"`
	MaxRetries     int    `yaml:"max_retries" envconfig:"GEN_MAX_RETRIES"`
	BackoffSeconds int    `yaml:"backoff_seconds" envconfig:"GEN_BACKOFF_SECONDS"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// DatabaseConfig carries Postgres connection settings. It mirrors the
// database package config so the config package stays import-free of it.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// RateLimitConfig holds settings for raw update rate limiting. This is the
// flood guard on inbound updates, distinct from the daily generation quota.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates all configuration for the bot process.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Bot        BotConfig        `yaml:"bot"`
	Generation GenerationConfig `yaml:"generation"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Bot.OwnerID == 0 {
		return fmt.Errorf("bot.owner_id is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if strings.TrimSpace(cfg.Database.Host) == "" {
		cfg.Database.Host = "localhost"
	}
	if strings.TrimSpace(cfg.Database.Port) == "" {
		cfg.Database.Port = "5432"
	}
	if strings.TrimSpace(cfg.Database.SSLMode) == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}
	if strings.TrimSpace(cfg.Database.User) == "" {
		return fmt.Errorf("database.user is required")
	}
	if strings.TrimSpace(cfg.Database.Name) == "" {
		return fmt.Errorf("database.name is required")
	}

	if cfg.Bot.DailyLimit <= 0 {
		cfg.Bot.DailyLimit = 1
	}
	if cfg.Bot.SessionTTLSeconds <= 0 {
		cfg.Bot.SessionTTLSeconds = 600
	}
	if cfg.Bot.UsersPageSize <= 0 {
		cfg.Bot.UsersPageSize = 10
	}

	if strings.TrimSpace(cfg.Generation.BaseURL) == "" {
		cfg.Generation.BaseURL = "https://openrouter.ai/api/v1"
	}
	if strings.TrimSpace(cfg.Generation.Model) == "" {
		cfg.Generation.Model = "google/gemini-2.5-flash-image-preview"
	}
	if cfg.Generation.TimeoutSeconds <= 0 {
		cfg.Generation.TimeoutSeconds = 60
	}
	if cfg.Generation.MaxRetries < 0 {
		return fmt.Errorf("generation.max_retries must be >= 0")
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 2
	}
	if cfg.Generation.BackoffSeconds <= 0 {
		cfg.Generation.BackoffSeconds = 1
	}

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}
