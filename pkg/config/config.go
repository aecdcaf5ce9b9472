package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the whole application configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	API      APIConfig      `yaml:"api"`
}

// TelegramConfig contains the MTProto client credentials.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	Phone       string `yaml:"phone"`
	SessionFile string `yaml:"session_file"`
}

// DatabaseConfig contains the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CrawlerConfig tunes the ingestion drivers. Duration fields are given
// as Go duration strings in the yaml file ("1s", "30m").
type CrawlerConfig struct {
	MessagesPerChat int    `yaml:"messages_per_chat"`
	ChatDelay       string `yaml:"chat_delay"`
	UserCacheTTL    string `yaml:"user_cache_ttl"`

	ChatDelayDuration    time.Duration `yaml:"-"`
	UserCacheTTLDuration time.Duration `yaml:"-"`
}

// APIConfig contains the HTTP API listen address.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and validates the configuration from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Telegram: TelegramConfig{SessionFile: "session.json"},
		Database: DatabaseConfig{Path: "crawler.db"},
		Crawler: CrawlerConfig{
			MessagesPerChat: 500,
			ChatDelay:       "1s",
			UserCacheTTL:    "1h",
		},
		API: APIConfig{Addr: ":8080"},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		return nil, fmt.Errorf("telegram api_id and api_hash are required")
	}
	if cfg.Telegram.Phone == "" {
		return nil, fmt.Errorf("telegram phone is required")
	}

	if cfg.Crawler.ChatDelayDuration, err = time.ParseDuration(cfg.Crawler.ChatDelay); err != nil {
		return nil, fmt.Errorf("invalid crawler chat_delay: %w", err)
	}
	if cfg.Crawler.UserCacheTTLDuration, err = time.ParseDuration(cfg.Crawler.UserCacheTTL); err != nil {
		return nil, fmt.Errorf("invalid crawler user_cache_ttl: %w", err)
	}

	return cfg, nil
}
