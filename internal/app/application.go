package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chatbroker/internal/api"
	"chatbroker/internal/archive"
	"chatbroker/internal/config"
	"chatbroker/internal/history"
	"chatbroker/internal/hub"
	"chatbroker/internal/registry"
	"chatbroker/internal/router"
	"chatbroker/internal/session"
	"chatbroker/internal/websocket"
	"chatbroker/pkg/interfaces"
)

// Application coordinates all broker components.
// ARCHITECTURAL DISCOVERY: Components are built in strict dependency order
// Archive → Registry/History → Router → Hub → Service → WebSocket → API → HTTP
// and torn down in reverse.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger

	archive    *archive.Store // nil when disabled
	hub        *hub.Hub
	service    *session.Service
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// NewApplication wires every component. Nil cfg means defaults.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{cfg: cfg, logger: logger}

	// STEP 1: optional transcript archive
	var arch interfaces.Archive
	if cfg.Archive.Enabled {
		openCtx, cancel := context.WithTimeout(ctx, cfg.Archive.Timeout)
		store, err := archive.Open(openCtx, archive.Config{
			Path:      cfg.Archive.Path,
			QueueSize: cfg.Archive.QueueSize,
		}, logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		app.archive = store
		arch = store
	}

	// STEP 2: in-memory state
	reg := registry.New(registry.WithMaxNameLength(cfg.Chat.MaxNameLength))
	hist := history.New(cfg.Chat.HistorySize, arch, logger)

	// STEP 3: delivery
	rt := router.NewRouter(logger)
	limiter := router.NewRateLimiter(cfg.Chat.RateLimitPerMinute, time.Minute)

	// STEP 4: membership events
	app.hub = hub.NewHub(hub.Config{
		QueueSize:       cfg.Chat.EventQueueSize,
		UnboundGrace:    cfg.Chat.UnboundUserGrace,
		JanitorInterval: cfg.Chat.JanitorInterval,
	}, reg, hist, rt, limiter, logger)

	// STEP 5: protocol
	app.service = session.NewService(session.Config{
		ReplayLimit:      cfg.Chat.ReplayLimit,
		MaxContentLength: cfg.Chat.MaxContentLength,
	}, reg, hist, rt, limiter, app.hub, logger)

	// STEP 6: transport and HTTP surface
	app.wsHandler = websocket.NewHandler(app.service, websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxFrameBytes:  cfg.WebSocket.MaxFrameBytes,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, logger)

	app.apiServer = api.NewServer(app.service, arch, app.wsHandler, api.Config{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxLimit:       cfg.Chat.HistorySize,
		QueryTimeout:   cfg.Archive.Timeout,
	}, logger)

	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return app, nil
}

// Start runs the hub and begins serving. It returns once the listener is
// bound; serving continues in the background until Stop.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	app.group = new(errgroup.Group)
	app.group.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	app.logger.Info("chatbroker started",
		"addr", ln.Addr().String(),
		"archive", app.archive != nil,
		"history_size", app.cfg.Chat.HistorySize,
	)
	return nil
}

// Wait blocks until the HTTP server exits and returns its failure, if any.
func (app *Application) Wait() error {
	if app.group == nil {
		return nil
	}
	return app.group.Wait()
}

// Stop shuts down in reverse dependency order: HTTP → live connections →
// hub → archive. Safe to call more than once.
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(ctx)
	})
	return app.stopErr
}

func (app *Application) stop(ctx context.Context) error {
	app.logger.Info("shutting down chatbroker")
	var errs []error

	// STEP 1: stop accepting requests; upgraded sockets are not covered by Shutdown
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: close live connections so their sessions tear down
	closed := app.wsHandler.Tracker().CloseAll()
	app.logger.Info("closed live connections", "count", closed)

	// STEP 3: drain membership events
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}

	// STEP 4: flush and close the archive
	if app.archive != nil {
		if err := app.archive.Flush(ctx); err != nil {
			app.logger.Warn("archive flush incomplete", "err", err)
		}
		if err := app.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close: %w", err))
		}
	}

	if err := app.Wait(); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info("chatbroker shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before Start.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Service exposes the broker service, mainly for tests.
func (app *Application) Service() *session.Service {
	return app.service
}
