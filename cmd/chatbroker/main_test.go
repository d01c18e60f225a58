package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"chatbroker/internal/config"
	"chatbroker/internal/logging"
)

func TestRun_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if code := run(path); code != 2 {
		t.Errorf("expected exit code 2 for invalid config, got %d", code)
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	if code := run(filepath.Join(t.TempDir(), "missing.yaml")); code != 2 {
		t.Errorf("expected exit code 2 for missing config, got %d", code)
	}
}

func TestLoggingConfig(t *testing.T) {
	lc := loggingConfig(config.LoggingConfig{
		Service: "chatbroker",
		Env:     "prod",
		Backend: "zap",
		Debug:   true,
	})
	if lc.Env != logging.EnvProd {
		t.Errorf("expected prod env, got %q", lc.Env)
	}
	if lc.Backend != logging.BackendZap {
		t.Errorf("expected zap backend, got %q", lc.Backend)
	}
	if lc.Level != slog.LevelDebug {
		t.Errorf("debug flag should lower level, got %v", lc.Level)
	}
}
