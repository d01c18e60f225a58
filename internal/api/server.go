package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/singleflight"

	"chatbroker/internal/session"
	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
)

// Broker is the slice of the session service the HTTP layer needs.
type Broker interface {
	Register(name string) (types.User, error)
	Roster() []types.RosterEntry
	PublicHistory(limit int) []types.Message
	Stats() session.Stats
}

// Config tunes the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	DefaultLimit   int
	MaxLimit       int
	QueryTimeout   time.Duration // bounds a shared archive query
}

// Server exposes the request/response collaborator paths and mounts the
// WebSocket endpoint.
// ARCHITECTURAL DISCOVERY: No chat logic lives here; every handler is a
// thin translation onto Broker so registration rules stay in one place.
type Server struct {
	broker  Broker
	archive interfaces.Archive // nil when archiving is disabled
	ws      http.Handler
	cfg     Config
	logger  *slog.Logger
	router  chi.Router

	archiveReads singleflight.Group // collapses concurrent identical archive queries
}

// NewServer builds the router. archive and ws may be nil.
func NewServer(broker Broker, archive interfaces.Archive, ws http.Handler, cfg Config, logger *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		broker:  broker,
		archive: archive,
		ws:      ws,
		cfg:     cfg,
		logger:  logger.With("component", "api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// The upgrade hijacks the connection, so it stays outside the timeout.
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/health", s.health)
		r.Route("/api", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Get("/users", s.users)
			r.Get("/history", s.history)
			r.Get("/stats", s.stats)
			r.Get("/archive", s.archived)
		})
	})
	return r
}
