// Command smallmercies drives a browser session of Fallen London with the
// fixers enabled.
//
// Usage:
//
//	smallmercies                               # defaults, settings in ./smallmercies.db
//	smallmercies -config smallmercies.yaml
//	smallmercies -admin 127.0.0.1:7070         # expose /fixers, /settings and /mcp
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/smallmercies/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to smallmercies.yaml config file")
	adminAddr := flag.String("admin", "", "admin listen address (overrides config)")
	headless := flag.Bool("headless", false, "run Chrome headless (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := daemon.Default()
	if *configPath != "" {
		var err error
		if cfg, err = daemon.LoadFile(*configPath); err != nil {
			logger.Error("smallmercies: config", "error", err)
			os.Exit(1)
		}
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *headless {
		cfg.Browser.Headless = true
	}

	if err := daemon.Run(ctx, cfg, logger); err != nil {
		logger.Error("smallmercies: fatal", "error", err)
		os.Exit(1)
	}
}
