package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbroker/internal/history"
	"chatbroker/internal/registry"
	"chatbroker/internal/router"
	"chatbroker/pkg/types"
	"chatbroker/pkg/wire"
)

// EventKind identifies a membership change.
type EventKind int

const (
	UserJoined EventKind = iota + 1
	UserLeft
)

func (k EventKind) String() string {
	switch k {
	case UserJoined:
		return "user_joined"
	case UserLeft:
		return "user_left"
	default:
		return "unknown"
	}
}

// Event is one membership change to announce.
type Event struct {
	Kind EventKind
	User types.User

	barrier chan struct{} // set only by Flush
}

// Config tunes the hub.
type Config struct {
	QueueSize       int
	UnboundGrace    time.Duration // zero disables the janitor
	JanitorInterval time.Duration
}

// Hub announces membership changes: a JOIN or LEAVE system message that is
// kept in History and broadcast, followed by a fresh roster.
// ARCHITECTURAL DISCOVERY: Every announcement goes through one processing
// lock, whether it comes from the queue consumer or an inline Dispatch, so
// all connections observe JOIN/LEAVE and USER_LIST frames in the same order.
type Hub struct {
	events   chan Event
	shutdown chan struct{}
	done     chan struct{}

	registry *registry.Registry
	history  *history.History
	router   *router.Router
	limiter  *router.RateLimiter
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	procMu  sync.Mutex
	running bool
	mu      sync.RWMutex
}

// NewHub wires the hub to the shared stores. limiter may be nil.
func NewHub(cfg Config, reg *registry.Registry, hist *history.History, rt *router.Router, limiter *router.RateLimiter, logger *slog.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		events:   make(chan Event, cfg.QueueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		registry: reg,
		history:  hist,
		router:   rt,
		limiter:  limiter,
		logger:   logger.With("component", "hub"),
		cfg:      cfg,
		now:      types.Now,
	}
}

// Start launches the consumer goroutine. A hub runs at most once.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.done:
		return ErrHubNotRunning
	default:
	}
	h.running = true

	h.logger.Info("starting hub", "queue_size", cap(h.events), "unbound_grace", h.cfg.UnboundGrace)
	go h.run(ctx)
	return nil
}

// Stop ends the consumer after draining queued events.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	<-h.done
	h.logger.Info("hub stopped")
	return nil
}

// Running reports whether the consumer is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Publish queues an event without blocking.
func (h *Hub) Publish(ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.events <- ev:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Dispatch processes the event on the caller's goroutine.
func (h *Hub) Dispatch(ev Event) {
	h.procMu.Lock()
	defer h.procMu.Unlock()
	h.handle(ev)
}

// Announce queues the event and falls back to inline processing when the
// queue cannot take it.
func (h *Hub) Announce(ev Event) {
	if err := h.Publish(ev); err != nil {
		if errors.Is(err, ErrEventQueueFull) {
			h.logger.Warn("event queue full, processing inline", "event", ev.Kind.String(), "user_id", ev.User.ID)
		}
		h.Dispatch(ev)
	}
}

// Flush blocks until every event queued before the call has been handled.
func (h *Hub) Flush(ctx context.Context) error {
	if !h.Running() {
		return ErrHubNotRunning
	}

	ev := Event{barrier: make(chan struct{})}
	select {
	case h.events <- ev:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ev.barrier:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RosterFrame encodes the current roster as a USER_LIST message.
func (h *Hub) RosterFrame() []byte {
	msg := types.Message{
		ID:         uuid.NewString(),
		Kind:       types.KindUserList,
		SenderID:   types.SystemSender,
		SenderName: types.SystemSender,
		Content:    string(wire.EncodeUserList(h.registry.Roster())),
		CreatedAt:  h.now(),
	}
	return wire.Encode(&msg)
}

// Sweep removes users that have had no binding since before the grace
// cutoff and announces their departure. It returns how many were removed.
func (h *Hub) Sweep() int {
	h.limiter.Cleanup()
	h.logger.Debug("janitor pass", "rate_limited_users", h.limiter.Tracked())
	if h.cfg.UnboundGrace <= 0 {
		return 0
	}

	cutoff := h.now().Add(-h.cfg.UnboundGrace)
	removed := 0
	for _, u := range h.registry.Unbound(cutoff) {
		if h.router.IsBound(u.ID) {
			continue
		}
		user, ok := h.registry.RemoveIdle(u.ID, cutoff)
		if !ok {
			continue
		}
		h.limiter.Remove(user.ID)
		h.logger.Info("removing idle unbound user", "user_id", user.ID, "name", user.DisplayName)
		h.Dispatch(Event{Kind: UserLeft, User: user})
		removed++
	}
	return removed
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	var tick <-chan time.Time
	if h.cfg.UnboundGrace > 0 {
		ticker := time.NewTicker(h.cfg.JanitorInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev := <-h.events:
			h.Dispatch(ev)
		case <-tick:
			h.Sweep()
		case <-h.shutdown:
			h.drain()
			return
		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			h.drain()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.events:
			h.Dispatch(ev)
		default:
			return
		}
	}
}

func (h *Hub) handle(ev Event) {
	if ev.barrier != nil {
		close(ev.barrier)
		return
	}

	var verb string
	var kind types.Kind
	switch ev.Kind {
	case UserJoined:
		kind, verb = types.KindJoin, "joined"
	case UserLeft:
		kind, verb = types.KindLeave, "left"
	default:
		h.logger.Warn("ignoring unknown hub event", "kind", int(ev.Kind))
		return
	}

	msg := types.Message{
		ID:         uuid.NewString(),
		Kind:       kind,
		SenderID:   ev.User.ID,
		SenderName: ev.User.DisplayName,
		Content:    fmt.Sprintf("%s %s the chat", ev.User.DisplayName, verb),
		CreatedAt:  h.now(),
	}
	if err := h.history.Append(msg); err != nil {
		return
	}
	delivered := h.router.Broadcast(wire.Encode(&msg))
	h.router.Broadcast(h.RosterFrame())

	h.logger.Debug("membership announced", "event", ev.Kind.String(), "user_id", ev.User.ID, "delivered", delivered)
}
