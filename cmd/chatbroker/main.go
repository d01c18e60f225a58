package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"chatbroker/internal/app"
	"chatbroker/internal/config"
	"chatbroker/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.EnvConfigFile+")")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run returns the process exit code.
func run(configPath string) int {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatbroker: %v\n", err)
		return 2
	}

	logger, syncLogs := logging.Init(loggingConfig(cfg.Logging))
	defer func() { _ = syncLogs() }()

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "err", err)
		return 1
	}
	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", "err", err)
		return 1
	}

	wait := gfshutdown.GracefulShutdown(ctx, cfg.HTTP.ShutdownTimeout, map[string]gfshutdown.Operation{
		"chatbroker": func(ctx context.Context) error {
			return application.Stop(ctx)
		},
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- application.Wait() }()

	select {
	case exitCode := <-wait:
		if exitCode != 0 {
			logger.Warn("shutdown completed with errors", "exit_code", exitCode)
		}
		return exitCode
	case err := <-serveErr:
		if err == nil {
			return 0
		}
		logger.Error("server stopped unexpectedly", "err", err)
		stopCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
		return 1
	}
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	lc := logging.Config{
		Service:   c.Service,
		Version:   c.Version,
		Env:       logging.Env(c.Env),
		Backend:   logging.Backend(c.Backend),
		Debug:     c.Debug,
		AddSource: c.AddSource,
	}
	if lc.Debug {
		lc.Level = slog.LevelDebug
	}
	return lc
}
