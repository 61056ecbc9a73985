// grimoire-host is the browser native messaging host. The browser
// launches it and speaks length-prefixed JSON over stdin/stdout, so
// logging goes to a file, with stderr as the fallback.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/daemon"
	"github.com/hazyhaar/grimoire/dbopen"
	"github.com/hazyhaar/grimoire/nativemsg"
	"github.com/hazyhaar/grimoire/searchproxy"
	"github.com/hazyhaar/grimoire/settings"
)

func main() {
	cfg, err := daemon.LoadConfigFile(env("GRIMOIRE_CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(logWriter(cfg.HostLog), &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logDB, err := dbopen.Open(cfg.LogDB, dbopen.WithMkdirAll())
	if err != nil {
		logger.Error("log db", "error", err)
		os.Exit(1)
	}
	defer logDB.Close()
	calls := apilog.NewStore(logDB)
	if err := calls.Init(); err != nil {
		logger.Error("log init", "error", err)
		os.Exit(1)
	}
	defer calls.Close()

	host := nativemsg.New(nativemsg.Config{
		Settings:      settings.NewManager(cfg.SettingsPath),
		Search:        searchproxy.New(searchproxy.Config{Calls: calls, Logger: logger}),
		Calls:         calls,
		Logger:        logger,
		DefaultFolder: cfg.ProjectFolder,
	})

	logger.Info("native messaging host started")
	if err := host.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
	logger.Info("native messaging host stopped")
}

func logWriter(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
