package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbroker/pkg/interfaces"
)

var _ interfaces.Conn = (*Connection)(nil)

// newUnstartedConnection builds a Connection without a socket or writer so
// the queue can be observed directly.
func newUnstartedConnection(buffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:      "test",
		writeCh: make(chan []byte, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func TestConnection_SendNonBlockingWhenFull(t *testing.T) {
	c := newUnstartedConnection(2)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))

	done := make(chan error, 1)
	go func() { done <- c.Send([]byte("c")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSendBufferFull)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}
}

func TestConnection_SendAfterCancel(t *testing.T) {
	c := newUnstartedConnection(2)
	assert.True(t, c.IsOpen())

	c.cancel()

	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte("a")), ErrConnectionClosed)
}

// dialPair returns the server-side socket of a real WebSocket pair.
func dialPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
	}
	return server, client
}

func TestConnection_WritesInOrder(t *testing.T) {
	server, client := dialPair(t)
	c := NewConnection(server, 16, time.Second)
	defer c.Close()

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, c.Send([]byte(s)))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"one", "two", "three"} {
		mt, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, want, string(data))
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	server, client := dialPair(t)
	c := NewConnection(server, 4, time.Second)

	assert.NoError(t, c.Close())
	assert.NotPanics(t, func() { _ = c.Close() })
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrConnectionClosed)

	select {
	case <-c.Context().Done():
	default:
		t.Fatal("context not cancelled after Close")
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestTracker_AddRemoveCloseAll(t *testing.T) {
	tr := NewTracker()
	server1, _ := dialPair(t)
	server2, _ := dialPair(t)
	c1 := NewConnection(server1, 4, time.Second)
	c2 := NewConnection(server2, 4, time.Second)

	tr.Add(c1)
	tr.Add(c2)
	assert.Equal(t, 2, tr.Count())

	tr.Remove(c1)
	assert.Equal(t, 1, tr.Count())

	assert.Equal(t, 1, tr.CloseAll())
	assert.Equal(t, 0, tr.Count())
	assert.False(t, c2.IsOpen())
	_ = c1.Close()
}
