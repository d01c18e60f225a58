package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Chat.HistorySize)
	assert.Equal(t, 100, cfg.Chat.ReplayLimit)
	assert.Equal(t, 32, cfg.Chat.MaxNameLength)
	assert.Equal(t, 2000, cfg.Chat.MaxContentLength)
	assert.Equal(t, 60, cfg.Chat.RateLimitPerMinute)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":             func(c *Config) { c.HTTP.Port = 70000 },
		"empty host":           func(c *Config) { c.HTTP.Host = "" },
		"zero ping":            func(c *Config) { c.WebSocket.PingInterval = 0 },
		"read before ping":     func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval },
		"zero buffer":          func(c *Config) { c.WebSocket.BufferSize = 0 },
		"zero history":         func(c *Config) { c.Chat.HistorySize = 0 },
		"negative replay":      func(c *Config) { c.Chat.ReplayLimit = -1 },
		"zero name length":     func(c *Config) { c.Chat.MaxNameLength = 0 },
		"archive without path": func(c *Config) { c.Archive.Enabled = true; c.Archive.Path = "" },
		"unknown log backend":  func(c *Config) { c.Logging.Backend = "syslog" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Chat.RateLimitPerMinute = 0
	cfg.Chat.UnboundUserGrace = 0
	assert.NoError(t, cfg.Validate(), "rate limiting and the janitor may be disabled")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHATBROKER_HTTP_PORT", "9090")
	t.Setenv("CHATBROKER_WEBSOCKET_PING_INTERVAL", "5s")
	t.Setenv("CHATBROKER_WEBSOCKET_READ_TIMEOUT", "15s")
	t.Setenv("CHATBROKER_CHAT_HISTORY_SIZE", "50")
	t.Setenv("CHATBROKER_ARCHIVE_ENABLED", "true")
	t.Setenv("CHATBROKER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CHATBROKER_CHAT_REPLAY_LIMIT", "not-a-number")

	cfg := LoadFromEnv()
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, 50, cfg.Chat.HistorySize)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 100, cfg.Chat.ReplayLimit, "malformed values keep the default")
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
http:
  port: 7000
websocket:
  ping_interval: 10s
  read_timeout: 25s
chat:
  max_content_length: 500
  unbound_user_grace: 1m
archive:
  enabled: true
  path: /tmp/archive.db
logging:
  backend: zap
  debug: true
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host, "unset keys keep defaults")
	assert.Equal(t, 10*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 25*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, 500, cfg.Chat.MaxContentLength)
	assert.Equal(t, time.Minute, cfg.Chat.UnboundUserGrace)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/tmp/archive.db", cfg.Archive.Path)
	assert.Equal(t, "zap", cfg.Logging.Backend)
	assert.True(t, cfg.Logging.Debug)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "http: [unterminated"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "http:\n  port: -5\n"))
	assert.Error(t, err)
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CHATBROKER_HTTP_PORT", "9090")
	t.Setenv("CHATBROKER_HTTP_HOST", "127.0.0.1")

	cfg, err := LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)

	path := writeFile(t, "http:\n  port: 7000\n")
	cfg, err = LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port, "file wins over environment")
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host, "environment wins over defaults")

	t.Setenv(EnvConfigFile, path)
	cfg, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
