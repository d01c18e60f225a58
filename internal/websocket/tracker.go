package websocket

import (
	"sync"
)

// Tracker holds every open Connection so shutdown can close them, whether
// or not they ever joined.
type Tracker struct {
	mu    sync.RWMutex
	conns map[string]*Connection // conn id -> Connection
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]*Connection)}
}

func (t *Tracker) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID()] = c
}

func (t *Tracker) Remove(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.conns[c.ID()]; ok && current == c {
		delete(t.conns, c.ID())
	}
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// CloseAll closes every tracked connection and returns how many it closed.
func (t *Tracker) CloseAll() int {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*Connection)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
