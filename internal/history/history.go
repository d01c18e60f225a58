package history

import (
	"fmt"
	"log/slog"
	"sync"

	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
)

// DefaultCapacity is the number of messages kept when none is configured.
const DefaultCapacity = 100

// History is a bounded, insertion-ordered ring of recent messages. The
// oldest message is evicted first once capacity is reached.
type History struct {
	mu      sync.RWMutex
	buf     []types.Message
	start   int // index of the oldest message
	size    int
	archive interfaces.Archive
	logger  *slog.Logger
}

// New creates a history holding at most capacity messages. archive may be
// nil; when set, every appended message is also handed to it.
func New(capacity int, archive interfaces.Archive, logger *slog.Logger) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		buf:     make([]types.Message, capacity),
		archive: archive,
		logger:  logger,
	}
}

// Append stores the message, evicting the oldest one when full. Messages
// failing shape validation are logged and dropped.
func (h *History) Append(m types.Message) error {
	if err := m.Validate(); err != nil {
		h.logger.Warn("dropping invalid message", "message_id", m.ID, "kind", string(m.Kind), "err", err)
		return fmt.Errorf("history append %s: %w", m.ID, err)
	}

	h.mu.Lock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = m
		h.size++
	} else {
		h.buf[h.start] = m
		h.start = (h.start + 1) % len(h.buf)
	}
	h.mu.Unlock()

	if h.archive != nil {
		if err := h.archive.Store(m); err != nil {
			h.logger.Warn("archive store failed", "message_id", m.ID, "err", err)
		}
	}
	return nil
}

// Recent returns at most limit messages, newest last. A limit larger than
// the stored count is clamped; limit <= 0 returns everything stored.
func (h *History) Recent(limit int) []types.Message {
	return h.collect(limit, func(*types.Message) bool { return true })
}

// VisibleTo returns at most limit of the newest messages userID may see
// on replay, newest last.
func (h *History) VisibleTo(userID string, limit int) []types.Message {
	return h.collect(limit, func(m *types.Message) bool { return m.VisibleTo(userID) })
}

// Public returns at most limit of the newest non-private messages.
func (h *History) Public(limit int) []types.Message {
	return h.collect(limit, func(m *types.Message) bool { return !m.IsPrivate() })
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the maximum number of stored messages.
func (h *History) Capacity() int {
	return len(h.buf)
}

// collect walks newest to oldest so the limit applies to the trailing
// window of matching messages, then restores chronological order.
func (h *History) collect(limit int, keep func(*types.Message) bool) []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	out := make([]types.Message, 0, limit)
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		m := &h.buf[(h.start+i)%len(h.buf)]
		if keep(m) {
			out = append(out, *m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
