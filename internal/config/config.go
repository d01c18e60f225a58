package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the variable holding the YAML config path.
const EnvConfigFile = "CHATBROKER_CONFIG_FILE"

// Config is the full broker configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Chat      ChatConfig      `yaml:"chat"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
}

// HTTPConfig configures the listener. Port 0 binds an ephemeral port.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	BufferSize    int           `yaml:"buffer_size"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes"`
}

// ChatConfig holds protocol limits. Zero rate limit disables limiting.
type ChatConfig struct {
	HistorySize        int           `yaml:"history_size"`
	ReplayLimit        int           `yaml:"replay_limit"`
	MaxNameLength      int           `yaml:"max_name_length"`
	MaxContentLength   int           `yaml:"max_content_length"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	UnboundUserGrace   time.Duration `yaml:"unbound_user_grace"`
	JanitorInterval    time.Duration `yaml:"janitor_interval"`
	EventQueueSize     int           `yaml:"event_queue_size"`
}

type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Env       string `yaml:"env"`     // dev|stage|prod, empty reads APP_ENV
	Service   string `yaml:"service"`
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"` // std|zap
	AddSource bool   `yaml:"add_source"`
	Debug     bool   `yaml:"debug"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns settings suitable for a single local instance.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  10 * time.Second,
			BufferSize:    256,
			MaxFrameBytes: 64 << 10,
		},
		Chat: ChatConfig{
			HistorySize:        100,
			ReplayLimit:        100,
			MaxNameLength:      32,
			MaxContentLength:   2000,
			RateLimitPerMinute: 60,
			UnboundUserGrace:   2 * time.Minute,
			JanitorInterval:    30 * time.Second,
			EventQueueSize:     256,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Path:      "./data/chatbroker.db",
			QueueSize: 1024,
			Timeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Service: "chatbroker",
			Version: "v0.1.0",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Validate rejects settings the broker cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("http.host cannot be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.read_timeout must be longer than ping_interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket.write_timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket.buffer_size must be positive")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("websocket.max_frame_bytes must be positive")
	}

	if c.Chat.HistorySize <= 0 {
		return fmt.Errorf("chat.history_size must be positive")
	}
	if c.Chat.ReplayLimit < 0 {
		return fmt.Errorf("chat.replay_limit cannot be negative")
	}
	if c.Chat.MaxNameLength <= 0 {
		return fmt.Errorf("chat.max_name_length must be positive")
	}
	if c.Chat.MaxContentLength <= 0 {
		return fmt.Errorf("chat.max_content_length must be positive")
	}
	if c.Chat.UnboundUserGrace < 0 {
		return fmt.Errorf("chat.unbound_user_grace cannot be negative")
	}
	if c.Chat.JanitorInterval <= 0 {
		return fmt.Errorf("chat.janitor_interval must be positive")
	}
	if c.Chat.EventQueueSize <= 0 {
		return fmt.Errorf("chat.event_queue_size must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path cannot be empty when the archive is enabled")
		}
		if c.Archive.QueueSize <= 0 {
			return fmt.Errorf("archive.queue_size must be positive")
		}
		if c.Archive.Timeout <= 0 {
			return fmt.Errorf("archive.timeout must be positive")
		}
	}

	switch c.Logging.Backend {
	case "", "std", "zap":
	default:
		return fmt.Errorf("logging.backend must be std or zap, got %q", c.Logging.Backend)
	}
	return nil
}

// LoadFromEnv returns defaults overridden by CHATBROKER_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	envString("CHATBROKER_HTTP_HOST", &c.HTTP.Host)
	envInt("CHATBROKER_HTTP_PORT", &c.HTTP.Port)
	envDuration("CHATBROKER_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("CHATBROKER_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("CHATBROKER_HTTP_REQUEST_TIMEOUT", &c.HTTP.RequestTimeout)
	envDuration("CHATBROKER_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("CHATBROKER_WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("CHATBROKER_WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("CHATBROKER_WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("CHATBROKER_WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v := os.Getenv("CHATBROKER_WEBSOCKET_MAX_FRAME_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxFrameBytes = n
		}
	}

	envInt("CHATBROKER_CHAT_HISTORY_SIZE", &c.Chat.HistorySize)
	envInt("CHATBROKER_CHAT_REPLAY_LIMIT", &c.Chat.ReplayLimit)
	envInt("CHATBROKER_CHAT_MAX_NAME_LENGTH", &c.Chat.MaxNameLength)
	envInt("CHATBROKER_CHAT_MAX_CONTENT_LENGTH", &c.Chat.MaxContentLength)
	envInt("CHATBROKER_CHAT_RATE_LIMIT_PER_MINUTE", &c.Chat.RateLimitPerMinute)
	envDuration("CHATBROKER_CHAT_UNBOUND_USER_GRACE", &c.Chat.UnboundUserGrace)
	envDuration("CHATBROKER_CHAT_JANITOR_INTERVAL", &c.Chat.JanitorInterval)
	envInt("CHATBROKER_CHAT_EVENT_QUEUE_SIZE", &c.Chat.EventQueueSize)

	envBool("CHATBROKER_ARCHIVE_ENABLED", &c.Archive.Enabled)
	envString("CHATBROKER_ARCHIVE_PATH", &c.Archive.Path)
	envInt("CHATBROKER_ARCHIVE_QUEUE_SIZE", &c.Archive.QueueSize)
	envDuration("CHATBROKER_ARCHIVE_TIMEOUT", &c.Archive.Timeout)

	envString("CHATBROKER_LOG_ENV", &c.Logging.Env)
	envString("CHATBROKER_LOG_BACKEND", &c.Logging.Backend)
	envString("CHATBROKER_LOG_VERSION", &c.Logging.Version)
	envBool("CHATBROKER_LOG_ADD_SOURCE", &c.Logging.AddSource)
	envBool("CHATBROKER_LOG_DEBUG", &c.Logging.Debug)

	if v := os.Getenv("CHATBROKER_CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.AllowedOrigins = origins
	}
}

// Malformed values are ignored and the previous value kept.

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// LoadFromFile returns defaults overridden by the YAML file. Durations are
// written as Go duration strings ("30s").
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults. An
// empty path falls back to CHATBROKER_CONFIG_FILE; no path at all means
// environment and defaults only.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := LoadFromEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
