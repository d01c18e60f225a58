package router

import (
	"log/slog"
	"sync"

	"chatbroker/pkg/interfaces"
)

// Router owns the user id -> live handle bindings and performs best-effort
// delivery of encoded frames.
// ARCHITECTURAL DISCOVERY: Delivery works on a snapshot taken under the read
// lock, so a slow Send never holds the binding map and a handle removed
// mid-broadcast is simply the last one it sees.
type Router struct {
	mu       sync.RWMutex
	bindings map[string]interfaces.Conn // userID -> Conn
	logger   *slog.Logger
}

// NewRouter creates a router with no bindings.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bindings: make(map[string]interfaces.Conn),
		logger:   logger,
	}
}

// Bind registers or replaces the live handle for a user and returns the
// handle it replaced, if any. The replaced handle is not closed.
func (r *Router) Bind(userID string, conn interfaces.Conn) (previous interfaces.Conn) {
	if userID == "" || conn == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.bindings[userID]
	r.bindings[userID] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Unbind removes the user's binding. No-op when absent.
func (r *Router) Unbind(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, userID)
}

// UnbindIf removes the binding only while it still points at conn, so a
// handle replaced by a reconnect cannot unbind its successor. It reports
// whether a binding was removed.
func (r *Router) UnbindIf(userID string, conn interfaces.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bindings[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.bindings, userID)
	return true
}

// Lookup returns the handle bound to the user.
func (r *Router) Lookup(userID string) (interfaces.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.bindings[userID]
	return conn, ok
}

// IsBound reports whether the user currently has an open handle.
func (r *Router) IsBound(userID string) bool {
	conn, ok := r.Lookup(userID)
	return ok && conn.IsOpen()
}

// Count returns the number of bindings.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Broadcast delivers the frame to every bound, open handle and returns the
// number of successful deliveries. Failures are skipped, never retried.
func (r *Router) Broadcast(frame []byte) int {
	delivered := 0
	for userID, conn := range r.snapshot() {
		if r.deliver(userID, conn, frame) {
			delivered++
		}
	}
	return delivered
}

// Unicast delivers the frame to the target's handle and echoes it to the
// sender's handle when the sender is someone else. A target without an
// open binding silently misses the frame; the echo still happens. It
// reports whether the target received it.
func (r *Router) Unicast(frame []byte, targetUserID, senderUserID string) bool {
	r.mu.RLock()
	target, hasTarget := r.bindings[targetUserID]
	sender, hasSender := r.bindings[senderUserID]
	r.mu.RUnlock()

	delivered := false
	if hasTarget {
		delivered = r.deliver(targetUserID, target, frame)
	}
	if hasSender && senderUserID != targetUserID {
		r.deliver(senderUserID, sender, frame)
	}
	return delivered
}

func (r *Router) snapshot() map[string]interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]interfaces.Conn, len(r.bindings))
	for userID, conn := range r.bindings {
		out[userID] = conn
	}
	return out
}

func (r *Router) deliver(userID string, conn interfaces.Conn, frame []byte) bool {
	if !conn.IsOpen() {
		return false
	}
	if err := conn.Send(frame); err != nil {
		r.logger.Debug("delivery skipped", "user_id", userID, "conn_id", conn.ID(), "err", err)
		return false
	}
	return true
}
