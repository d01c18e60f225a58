// Package fixtures holds test doubles and clients shared by package tests.
package fixtures

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"chatbroker/pkg/types"
	"chatbroker/pkg/wire"
)

// ErrFakeClosed is returned by Send on a closed FakeConn.
var ErrFakeClosed = errors.New("fake connection closed")

// FakeConn is an in-memory interfaces.Conn that records every frame.
type FakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed atomic.Bool
	// SendErr, when set, is returned by Send instead of recording.
	SendErr error
}

// NewFakeConn creates an open fake handle.
func NewFakeConn() *FakeConn {
	return &FakeConn{id: uuid.NewString()}
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrFakeClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *FakeConn) IsOpen() bool { return !c.closed.Load() }

func (c *FakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// Frames returns a copy of the recorded raw frames.
func (c *FakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Messages decodes every recorded frame, skipping ones that are not
// <message> frames.
func (c *FakeConn) Messages() []types.Message {
	var out []types.Message
	for _, f := range c.Frames() {
		if m, err := wire.DecodeMessage(f); err == nil {
			out = append(out, *m)
		}
	}
	return out
}

// OfKind returns the recorded messages of one kind.
func (c *FakeConn) OfKind(kind types.Kind) []types.Message {
	var out []types.Message
	for _, m := range c.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message of a kind.
func (c *FakeConn) Last(kind types.Kind) (types.Message, bool) {
	ms := c.OfKind(kind)
	if len(ms) == 0 {
		return types.Message{}, false
	}
	return ms[len(ms)-1], true
}

// Reset drops recorded frames.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// RosterNames decodes the latest USER_LIST content into display names.
func (c *FakeConn) RosterNames() []string {
	m, ok := c.Last(types.KindUserList)
	if !ok {
		return nil
	}
	users, err := wire.DecodeUserList([]byte(m.Content))
	if err != nil {
		return nil
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	return names
}
