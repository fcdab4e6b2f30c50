// Package config loads the bot configuration from defaults, an optional YAML
// file, the environment (including a .env file) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables before they become config keys.
const EnvPrefix = "RSBOT_"

// Default configuration values.
const (
	DefaultUpdateTimeout    = 60
	DefaultMaxConns         = 4
	DefaultMaxMessageLength = 4000
	DefaultWorkers          = 4
	DefaultLogLevel         = "info"
)

type Config struct {
	Telegram    TelegramConfig    `koanf:"telegram"`
	Postgres    PostgresConfig    `koanf:"postgres"`
	Leaderboard LeaderboardConfig `koanf:"leaderboard"`
	Log         LogConfig         `koanf:"log"`
	Workers     int               `koanf:"workers"`
}

type TelegramConfig struct {
	Token         string `koanf:"token"`
	Debug         bool   `koanf:"debug"`
	UpdateTimeout int    `koanf:"update_timeout"`
	// AllowedChatID restricts the bot to one chat. Zero means any chat.
	AllowedChatID int64 `koanf:"allowed_chat_id"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

type LeaderboardConfig struct {
	MaxMessageLength int `koanf:"max_message_length"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// legacyEnv maps the variable names used by earlier deployments to config keys.
var legacyEnv = map[string]string{
	"TELEGRAM_TOKEN": "telegram.token",
	"POSTGRES_DSN":   "postgres.dsn",
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"telegram.update_timeout":        DefaultUpdateTimeout,
		"postgres.max_conns":             DefaultMaxConns,
		"leaderboard.max_message_length": DefaultMaxMessageLength,
		"workers":                        DefaultWorkers,
		"log.level":                      DefaultLogLevel,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	legacy := map[string]any{}
	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" {
			legacy[key] = v
		}
	}
	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy env vars: %w", err)
	}

	// RSBOT_TELEGRAM_TOKEN -> telegram.token
	// RSBOT_LEADERBOARD_MAX_MESSAGE_LENGTH -> leaderboard.max_message_length
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			// --log-level -> log.level
			return strings.Replace(strings.ReplaceAll(f.Name, "-", "_"), "_", ".", 1), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "workers" {
		return key
	}
	return strings.Replace(key, "_", ".", 1)
}

// Validate reports the first setting the bot can't start with.
func (c *Config) Validate() error {
	switch {
	case c.Telegram.Token == "":
		return errors.New("telegram.token is not set")
	case c.Postgres.DSN == "":
		return errors.New("postgres.dsn is not set")
	case c.Leaderboard.MaxMessageLength <= 0:
		return fmt.Errorf("leaderboard.max_message_length must be positive, got %d", c.Leaderboard.MaxMessageLength)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
