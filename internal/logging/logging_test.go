package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEnv(t *testing.T) {
	cases := map[string]Env{
		"":           EnvDev,
		"local":      EnvDev,
		"production": EnvProd,
		" PROD ":     EnvProd,
		"staging":    EnvStage,
		"stage":      EnvStage,
	}
	for raw, want := range cases {
		t.Setenv("APP_ENV", raw)
		assert.Equal(t, want, DetectEnv(), "APP_ENV=%q", raw)
	}
}

func TestNew_StdBackendCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, sync := New(Config{
		Service:    "chatbroker",
		Version:    "v1.2.3",
		InstanceID: "test-1",
		Env:        EnvDev,
		Output:     &buf,
	})
	logger.Info("user joined", "user", "alice")
	require.NoError(t, sync())

	line := buf.String()
	assert.Contains(t, line, "msg=\"user joined\"")
	assert.Contains(t, line, "user=alice")
	assert.Contains(t, line, "service=chatbroker")
	assert.Contains(t, line, "version=v1.2.3")
	assert.Contains(t, line, "instance_id=test-1")
	assert.Contains(t, line, "env=dev")
}

func TestNew_DebugFlag(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Env: EnvDev, Output: &buf})
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger, _ = New(Config{Env: EnvDev, Debug: true, Output: &buf})
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_ZapBackendWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{
		Service:    "chatbroker",
		InstanceID: "test-2",
		Env:        EnvProd,
		Output:     &buf,
	})
	logger.Warn("rate limited", "user_id", "u-1")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "rate limited", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, "chatbroker", entry["service"])
	assert.Equal(t, "prod", entry["env"])
	assert.Contains(t, entry, "ts")
}

func TestNew_ExplicitBackendOverridesEnvDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Env: EnvProd, Backend: BackendStd, Output: &buf})
	logger.Info("plain")
	assert.True(t, strings.HasPrefix(buf.String(), "time="), buf.String())
}

func TestToZapLevel(t *testing.T) {
	assert.Equal(t, "debug", toZapLevel(slog.LevelDebug).String())
	assert.Equal(t, "info", toZapLevel(slog.LevelInfo).String())
	assert.Equal(t, "warn", toZapLevel(slog.LevelWarn).String())
	assert.Equal(t, "error", toZapLevel(slog.LevelError).String())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("dropped") })
}
