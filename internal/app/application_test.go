package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbroker/internal/archive"
	"chatbroker/internal/config"
	"chatbroker/internal/fixtures"
	"chatbroker/internal/logging"
	"chatbroker/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Archive.Enabled = true
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1

	app, err := NewApplication(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestNewApplication_NilConfigUsesDefaults(t *testing.T) {
	app, err := NewApplication(context.Background(), nil, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", app.Addr())
	assert.Nil(t, app.archive)
}

func TestApplication_StopWithoutStart(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApplication(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, app.Stop(ctx))
	assert.NoError(t, app.Stop(ctx), "second stop is a no-op")
}

func TestApplication_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := NewApplication(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	base := "http://" + app.Addr()

	// health
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// HTTP registration shares the registry with the socket path
	body, _ := json.Marshal(map[string]string{"username": "alice"})
	resp, err = http.Post(base+"/api/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var reg types.RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	resp.Body.Close()
	require.True(t, reg.Success)
	require.NotEmpty(t, reg.UserID)

	alice, err := fixtures.Dial(ctx, base)
	require.NoError(t, err)
	defer alice.Close()
	require.NoError(t, alice.Join("alice", reg.UserID, 2*time.Second))
	assert.Equal(t, reg.UserID, alice.UserID)

	bob, err := fixtures.Dial(ctx, base)
	require.NoError(t, err)
	defer bob.Close()
	assert.Error(t, bob.Join("ALICE", "", 2*time.Second), "names are unique regardless of case")

	require.NoError(t, bob.Join("bob", "", 2*time.Second))
	_, err = alice.WaitFor(2*time.Second, func(m types.Message) bool {
		return m.Kind == types.KindJoin && m.Content == "bob joined the chat"
	})
	require.NoError(t, err)

	require.NoError(t, bob.Chat("hello alice"))
	got, err := alice.WaitForKind(types.KindChat, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello alice", got.Content)
	assert.Equal(t, "bob", got.SenderName)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(stopCtx))

	select {
	case <-alice.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("live connections should be closed on shutdown")
	}

	store, err := archive.Open(ctx, archive.Config{Path: cfg.Archive.Path}, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	msgs, err := store.Recent(ctx, 50)
	require.NoError(t, err)
	var chats int
	for _, m := range msgs {
		if m.Kind == types.KindChat {
			chats++
			assert.Equal(t, "hello alice", m.Content)
		}
	}
	assert.Equal(t, 1, chats)
}
