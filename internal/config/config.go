// Package config provides YAML-based configuration loading for Muster, with
// environment overrides for secrets and deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

// Config is the top-level Muster configuration, loaded from muster.yaml.
type Config struct {
	Platform      string          `yaml:"platform" env:"MUSTER_PLATFORM"`
	Channel       string          `yaml:"channel" env:"MUSTER_CHANNEL"` // announcement channel for digests and status lines
	CommandPrefix string          `yaml:"command_prefix"`
	Workers       int             `yaml:"workers"`
	Creation      CreationConfig  `yaml:"creation"`
	Outbox        OutboxConfig    `yaml:"outbox"`
	Digest        DigestConfig    `yaml:"digest"`
	Slack         SlackConfig     `yaml:"slack"`
	Discord       DiscordConfig   `yaml:"discord"`
	Telegram      TelegramConfig  `yaml:"telegram"`
	Journal       JournalConfig   `yaml:"journal"`
	Dashboard     DashboardConfig `yaml:"dashboard"`
	Log           LogConfig       `yaml:"log"`
}

// CreationConfig bounds the session creation conversation.
type CreationConfig struct {
	MinCapacity int      `yaml:"min_capacity"`
	MaxCapacity int      `yaml:"max_capacity"`
	CancelWords []string `yaml:"cancel_words"`
}

// OutboxConfig controls notification delivery.
type OutboxConfig struct {
	SendTimeoutSec int `yaml:"send_timeout_sec"`
}

// DigestConfig schedules the open-session digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"MUSTER_SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"MUSTER_SLACK_APP_TOKEN"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" env:"MUSTER_DISCORD_BOT_TOKEN"`
	GuildID  string `yaml:"guild_id"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	BotToken       string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	PollTimeoutSec int    `yaml:"poll_timeout_sec"`
}

// JournalConfig selects where session events are recorded. An empty
// driver disables the journal.
type JournalConfig struct {
	Driver   string `yaml:"driver" env:"MUSTER_JOURNAL_DRIVER"` // "", "sqlite" or "mysql"
	Path     string `yaml:"path"`                               // sqlite file
	Host     string `yaml:"host" env:"MUSTER_JOURNAL_HOST"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user" env:"MUSTER_JOURNAL_USER"`
	Password string `yaml:"password" env:"MUSTER_JOURNAL_PASSWORD"`
}

// DashboardConfig controls the read-only HTTP API.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" env:"MUSTER_DASHBOARD_PORT"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"MUSTER_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"MUSTER_LOG_FORMAT"` // console, json; empty picks by terminal
}

// Load reads a YAML config file from path and returns a validated Config.
// An empty path configures from the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/"
	}
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.Creation.MinCapacity == 0 {
		c.Creation.MinCapacity = 2
	}
	if c.Creation.MaxCapacity == 0 {
		c.Creation.MaxCapacity = 20
	}
	if c.Outbox.SendTimeoutSec == 0 {
		c.Outbox.SendTimeoutSec = 10
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 18 * * *"
	}
	if c.Telegram.PollTimeoutSec == 0 {
		c.Telegram.PollTimeoutSec = 60
	}
	switch c.Journal.Driver {
	case "sqlite":
		if c.Journal.Path == "" {
			c.Journal.Path = "muster.db"
		}
	case "mysql":
		if c.Journal.Host == "" {
			c.Journal.Host = "127.0.0.1"
		}
		if c.Journal.Port == 0 {
			c.Journal.Port = 3306
		}
		if c.Journal.Database == "" {
			c.Journal.Database = "muster"
		}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case PlatformSlack:
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	case PlatformDiscord:
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	case PlatformTelegram:
		if c.Telegram.BotToken == "" {
			errs = append(errs, "telegram.bot_token is required")
		}
	case "":
		errs = append(errs, "platform is required")
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not one of slack, discord, telegram", c.Platform))
	}
	if c.Workers < 0 {
		errs = append(errs, "workers must not be negative")
	}
	if c.Creation.MinCapacity < 2 {
		errs = append(errs, "creation.min_capacity must be at least 2")
	}
	if c.Creation.MaxCapacity < c.Creation.MinCapacity {
		errs = append(errs, "creation.max_capacity must not be below min_capacity")
	}
	if c.Outbox.SendTimeoutSec < 0 {
		errs = append(errs, "outbox.send_timeout_sec must not be negative")
	}
	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("digest.cron: %v", err))
		}
	}
	switch c.Journal.Driver {
	case "", "sqlite":
	case "mysql":
		if c.Journal.User == "" {
			errs = append(errs, "journal.user is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal.driver %q is not one of sqlite, mysql", c.Journal.Driver))
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		errs = append(errs, "dashboard.port must be between 1 and 65535")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
