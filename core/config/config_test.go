package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Database: DatabaseConfig{User: "bot", Name: "bot"},
		Bot:      BotConfig{OwnerID: 42},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode = %q, want longpoll", cfg.Telegram.RunMode)
	}
	if cfg.Bot.DailyLimit != 1 {
		t.Errorf("daily_limit = %d, want 1", cfg.Bot.DailyLimit)
	}
	if cfg.Bot.SessionTTLSeconds != 600 {
		t.Errorf("session_ttl_seconds = %d, want 600", cfg.Bot.SessionTTLSeconds)
	}
	if cfg.Database.Host != "localhost" || cfg.Database.Port != "5432" {
		t.Errorf("database defaults = %s:%s", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.MaxConnections != 10 {
		t.Errorf("max_connections = %d, want 10", cfg.Database.MaxConnections)
	}
	if cfg.Generation.BaseURL == "" || cfg.Generation.Model == "" {
		t.Error("generation defaults not filled")
	}
	if cfg.Generation.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want 2", cfg.Generation.MaxRetries)
	}
}

func TestNormalizeRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "token"},
		{"missing owner", func(c *Config) { c.Bot.OwnerID = 0 }, "owner_id"},
		{"missing db user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"bad run mode", func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" }, "run_mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNormalizeWebhookMode(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "webhook"
	if err := Normalize(cfg); err == nil {
		t.Fatal("webhook mode without url must fail")
	}

	cfg = validConfig()
	cfg.Telegram.RunMode = "webhook"
	cfg.Webhook.URL = "https://bot.example.com/hook"
	cfg.Webhook.Listen = "0.0.0.0"
	cfg.Webhook.Port = 8443
	if err := Normalize(cfg); err != nil {
		t.Fatalf("valid webhook config rejected: %v", err)
	}
}

func TestNormalizePollingAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "polling"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode = %q, want longpoll", cfg.Telegram.RunMode)
	}
}

func TestNormalizeRejectsBadRateLimitExclusion(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.ExcludeUpdates = []string{"inline_query"}
	if err := Normalize(cfg); err == nil {
		t.Fatal("unknown exclusion must be rejected")
	}
}
