// Package config provides YAML-based configuration loading for Courier.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level Courier configuration, loaded from courier.yaml.
// Secrets may be supplied through the environment instead of the file.
type Config struct {
	Platform  string          `yaml:"platform" env:"COURIER_PLATFORM"`
	OwnerID   int64           `yaml:"owner_id" env:"COURIER_OWNER_ID"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord"`
	Database  DatabaseConfig  `yaml:"database"`
	Health    HealthConfig    `yaml:"health"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" env:"COURIER_TELEGRAM_TOKEN"`
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" env:"COURIER_DISCORD_TOKEN"`
}

// DatabaseConfig selects where the relay settings record is persisted.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"COURIER_DATABASE_DRIVER"`
	DSN    string `yaml:"dsn" env:"COURIER_DATABASE_DSN"`
}

// HealthConfig controls the liveness HTTP endpoint.
type HealthConfig struct {
	Enabled bool `yaml:"enabled" env:"COURIER_HEALTH_ENABLED"`
	Port    int  `yaml:"port" env:"PORT"`
}

// HeartbeatConfig schedules periodic status reports to the operator.
// An empty Cron disables the heartbeat.
type HeartbeatConfig struct {
	Cron string `yaml:"cron"`
}

// LogConfig controls log verbosity and output encoding.
type LogConfig struct {
	Level  string `yaml:"level" env:"COURIER_LOG_LEVEL"`
	Format string `yaml:"format" env:"COURIER_LOG_FORMAT"` // auto, console, json
}

// Load reads a YAML config file from path, applies environment overrides
// and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// variables take precedence over values from the file.
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
	if c.Platform == "" {
		c.Platform = PlatformTelegram
	}
	c.Platform = strings.ToLower(c.Platform)
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = "courier.db"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.OwnerID == 0 {
		errs = append(errs, "owner_id is required")
	}
	switch c.Platform {
	case PlatformTelegram:
		if c.Telegram.BotToken == "" {
			errs = append(errs, "telegram.bot_token is required")
		}
	case PlatformDiscord:
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported", c.Platform))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Sprintf("health.port %d is out of range", c.Health.Port))
	}
	if c.Heartbeat.Cron != "" {
		if _, err := cron.ParseStandard(c.Heartbeat.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("heartbeat.cron: %v", err))
		}
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
