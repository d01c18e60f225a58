package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatbroker/internal/session"
)

// Config tunes the transport.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration // read deadline, refreshed by every pong
	WriteTimeout   time.Duration
	BufferSize     int
	MaxFrameBytes  int64
	AllowedOrigins []string // empty or "*" allows any origin
}

// Handler upgrades requests and runs one Session per connection.
type Handler struct {
	service  *session.Service
	cfg      Config
	tracker  *Tracker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the /ws handler.
func NewHandler(service *session.Service, cfg Config, logger *slog.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= cfg.PingInterval {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 << 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		service: service,
		cfg:     cfg,
		tracker: NewTracker(),
		logger:  logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// Tracker exposes the live connection set.
func (h *Handler) Tracker() *Tracker {
	return h.tracker
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := NewConnection(ws, h.cfg.BufferSize, h.cfg.WriteTimeout)
	h.tracker.Add(conn)
	h.logger.Debug("connection opened", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	go h.serve(conn)
}

// serve is the read pump. It owns the session for the connection's whole
// life and tears it down when the transport closes.
func (h *Handler) serve(conn *Connection) {
	ctx := conn.Context()
	sess := h.service.NewSession(conn)
	ws := conn.conn

	defer func() {
		sess.Close(ctx)
		_ = conn.Close()
		h.tracker.Remove(conn)
		h.logger.Debug("connection closed", "conn_id", conn.ID(), "user_id", sess.UserID())
	}()

	ws.SetReadLimit(h.cfg.MaxFrameBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.ping(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", "conn_id", conn.ID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := sess.HandleFrame(ctx, data); err != nil {
			h.logger.Debug("frame rejected", "conn_id", conn.ID(), "err", err)
		}
	}
}

func (h *Handler) ping(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Context().Done():
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
