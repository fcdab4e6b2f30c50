package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultUpdateTimeout, cfg.Telegram.UpdateTimeout)
	assert.Equal(t, int32(DefaultMaxConns), cfg.Postgres.MaxConns)
	assert.Equal(t, DefaultMaxMessageLength, cfg.Leaderboard.MaxMessageLength)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Error(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "rsbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: from-file
  allowed_chat_id: -10042
postgres:
  dsn: postgres://file
leaderboard:
  max_message_length: 2000
workers: 2
log:
  level: warn
`), 0o600))

	t.Setenv("RSBOT_POSTGRES_DSN", "postgres://env")
	t.Setenv("RSBOT_WORKERS", "8")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.Int("workers", DefaultWorkers, "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Telegram.Token)
	assert.Equal(t, int64(-10042), cfg.Telegram.AllowedChatID)
	assert.Equal(t, "postgres://env", cfg.Postgres.DSN)
	assert.Equal(t, 2000, cfg.Leaderboard.MaxMessageLength)
	assert.Equal(t, 8, cfg.Workers, "unset flag must not override env")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_LegacyEnvAndDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TELEGRAM_TOKEN=dotenv-token\n"), 0o600))
	t.Setenv("POSTGRES_DSN", "postgres://legacy")
	t.Cleanup(func() { os.Unsetenv("TELEGRAM_TOKEN") })

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "dotenv-token", cfg.Telegram.Token)
	assert.Equal(t, "postgres://legacy", cfg.Postgres.DSN)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TELEGRAM_TOKEN", "legacy")
	t.Setenv("RSBOT_TELEGRAM_TOKEN", "prefixed")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Telegram.Token)
}

func TestLoad_MissingFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Telegram:    TelegramConfig{Token: "t"},
		Postgres:    PostgresConfig{DSN: "d"},
		Leaderboard: LeaderboardConfig{MaxMessageLength: 10},
		Workers:     1,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }},
		{"no dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"zero message length", func(c *Config) { c.Leaderboard.MaxMessageLength = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
