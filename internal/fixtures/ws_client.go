package fixtures

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatbroker/pkg/types"
	"chatbroker/pkg/wire"
)

// ErrClientTimeout is returned when an expected frame does not arrive.
var ErrClientTimeout = errors.New("timed out waiting for frame")

// TestClient is a WebSocket chat client for end-to-end tests.
type TestClient struct {
	UserID   string
	Username string

	conn     *websocket.Conn
	writeMu  sync.Mutex
	messages chan types.Message
	done     chan struct{}
}

// Dial connects to the /ws endpoint of serverURL (http or https scheme).
func Dial(ctx context.Context, serverURL string) (*TestClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	tc := &TestClient{
		conn:     conn,
		messages: make(chan types.Message, 256),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	return tc, nil
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := wire.DecodeMessage(data)
		if err != nil {
			continue
		}
		select {
		case tc.messages <- *m:
		default:
		}
	}
}

// SendRaw writes one text frame.
func (tc *TestClient) SendRaw(data []byte) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return tc.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary writes one binary frame.
func (tc *TestClient) SendBinary(data []byte) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return tc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Send encodes and writes one message.
func (tc *TestClient) Send(m types.Message) error {
	return tc.SendRaw(wire.Encode(&m))
}

// Join sends a JOIN frame and waits for the confirmation carrying the
// client id. A rejected join returns the ERROR text as an error.
func (tc *TestClient) Join(name, userID string, timeout time.Duration) error {
	if err := tc.Send(types.Message{Kind: types.KindJoin, SenderName: name, SenderID: userID}); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		m, err := tc.Next(time.Until(deadline))
		if err != nil {
			return err
		}
		switch {
		case m.Kind == types.KindError:
			return errors.New(m.Content)
		case m.Kind == types.KindJoin && m.ClientID != "":
			tc.UserID = m.ClientID
			tc.Username = m.SenderName
			return nil
		}
	}
}

// Chat sends a CHAT frame.
func (tc *TestClient) Chat(content string) error {
	return tc.Send(types.Message{Kind: types.KindChat, SenderID: tc.UserID, Content: content})
}

// Private sends a PRIVATE frame to targetID.
func (tc *TestClient) Private(targetID, content string) error {
	return tc.Send(types.Message{Kind: types.KindPrivate, SenderID: tc.UserID, TargetID: targetID, Content: content})
}

// Logout sends a LOGOUT frame.
func (tc *TestClient) Logout() error {
	return tc.Send(types.Message{Kind: types.KindLogout, SenderID: tc.UserID})
}

// Next returns the next decoded message.
func (tc *TestClient) Next(timeout time.Duration) (types.Message, error) {
	select {
	case m := <-tc.messages:
		return m, nil
	case <-time.After(timeout):
		return types.Message{}, ErrClientTimeout
	}
}

// WaitFor skips frames until one matches.
func (tc *TestClient) WaitFor(timeout time.Duration, match func(types.Message) bool) (types.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		m, err := tc.Next(time.Until(deadline))
		if err != nil {
			return types.Message{}, err
		}
		if match(m) {
			return m, nil
		}
	}
}

// WaitForKind skips frames until one of the given kind arrives.
func (tc *TestClient) WaitForKind(kind types.Kind, timeout time.Duration) (types.Message, error) {
	return tc.WaitFor(timeout, func(m types.Message) bool { return m.Kind == kind })
}

// Absent reports whether no frame matching match arrives within wait.
func (tc *TestClient) Absent(wait time.Duration, match func(types.Message) bool) bool {
	_, err := tc.WaitFor(wait, match)
	return errors.Is(err, ErrClientTimeout)
}

// Closed is closed once the server side ends the stream.
func (tc *TestClient) Closed() <-chan struct{} {
	return tc.done
}

// Close drops the connection without a LOGOUT.
func (tc *TestClient) Close() error {
	return tc.conn.Close()
}
