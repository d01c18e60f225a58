package session

import (
	"log/slog"
	"sync"

	"chatbroker/internal/history"
	"chatbroker/internal/hub"
	"chatbroker/internal/registry"
	"chatbroker/internal/router"
	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
)

// Config holds the per-connection protocol limits.
type Config struct {
	ReplayLimit      int // messages replayed on join; <= 0 replays everything kept
	MaxContentLength int // runes; <= 0 disables
}

// Stats is a point-in-time view of broker state.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	History     int `json:"history"`
}

// Service bundles the shared broker stores. Every entry path, WebSocket or
// HTTP, goes through the same Service so name uniqueness is enforced once.
type Service struct {
	cfg      Config
	registry *registry.Registry
	history  *history.History
	router   *router.Router
	limiter  *router.RateLimiter
	hub      *hub.Hub
	logger   *slog.Logger

	// bindMu orders a reconnect's bind+mark-connected against a teardown's
	// unbind+remove for the same user.
	bindMu sync.Mutex
	// beforeRebind runs between the id lookup and the bind of a reconnect.
	beforeRebind func(userID string)
}

// NewService creates the broker service. limiter may be nil.
func NewService(cfg Config, reg *registry.Registry, hist *history.History, rt *router.Router, limiter *router.RateLimiter, h *hub.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		registry: reg,
		history:  hist,
		router:   rt,
		limiter:  limiter,
		hub:      h,
		logger:   logger.With("component", "session"),
	}
}

// Register creates a user through the request/response path. The user has
// no binding until a connection joins with the returned id.
func (s *Service) Register(name string) (types.User, error) {
	user, err := s.registry.Register(name)
	if err != nil {
		s.logger.Info("registration rejected", "name", name, "err", err)
		return types.User{}, err
	}
	user, _ = s.registry.SetConnected(user.ID, false)

	s.logger.Info("user registered", "user_id", user.ID, "name", user.DisplayName, "path", "http")
	s.hub.Announce(hub.Event{Kind: hub.UserJoined, User: user})
	return user, nil
}

// Roster returns the current {id, name} pairs.
func (s *Service) Roster() []types.RosterEntry {
	return s.registry.Roster()
}

// PublicHistory returns up to limit of the newest non-private messages.
func (s *Service) PublicHistory(limit int) []types.Message {
	return s.history.Public(limit)
}

// Stats reports registry, binding and history sizes.
func (s *Service) Stats() Stats {
	return Stats{
		Users:       s.registry.Count(),
		Connections: s.router.Count(),
		History:     s.history.Len(),
	}
}

// NewSession starts the protocol for a freshly opened transport handle.
func (s *Service) NewSession(conn interfaces.Conn) *Session {
	return &Session{
		svc:    s,
		conn:   conn,
		state:  StateUnauthenticated,
		logger: s.logger.With("conn_id", conn.ID()),
	}
}
