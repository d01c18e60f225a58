package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// New builds the broker logger with service metadata attached to every
// record. The returned sync func flushes buffered backends.
func New(cfg Config) (*slog.Logger, func() error) {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "chatbroker"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = instanceID()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var (
		h    slog.Handler
		sync = func() error { return nil }
	)
	switch cfg.Backend {
	case BackendZap:
		h, sync = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs([]slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", time.Now()),
	})
	return slog.New(h), sync
}

// Init is New plus slog.SetDefault.
func Init(cfg Config) (*slog.Logger, func() error) {
	l, sync := New(cfg)
	slog.SetDefault(l)
	return l, sync
}

func instanceID() string {
	hn, _ := os.Hostname()
	return hn + "-" + uuid.New().String()[:8]
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
