package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marcus/huddle/internal/relay"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/remote/memory"
	"github.com/marcus/huddle/internal/remote/sqlite"
)

func main() {
	var (
		listenAddr = flag.String("listen", envOr("RELAY_LISTEN", ":8484"), "TCP address to serve on")
		dbPath     = flag.String("db", envOr("RELAY_DB", "relay.db"), "sqlite database path, or 'memory' for an ephemeral store")
		token      = flag.String("token", os.Getenv("RELAY_TOKEN"), "shared bearer token; empty disables auth")
		logLevel   = flag.String("log-level", envOr("RELAY_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
		logFormat  = flag.String("log-format", envOr("RELAY_LOG_FORMAT", "json"), "log format (json|text)")
	)
	flag.Parse()

	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(*logFormat) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)

	var store remote.Store
	if *dbPath == "memory" {
		store = memory.New(log)
	} else {
		var err error
		store, err = sqlite.Open(*dbPath, log)
		if err != nil {
			slog.Error("open store", "err", err)
			os.Exit(1)
		}
	}
	defer store.Close()

	srv := relay.NewServer(relay.Config{
		ListenAddr: *listenAddr,
		Token:      *token,
	}, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}
	slog.Info("server started", "addr", *listenAddr)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
