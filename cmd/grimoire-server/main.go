// grimoire-server is the local viewer API for the knowledge base.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/daemon"
	"github.com/hazyhaar/grimoire/dbopen"
	"github.com/hazyhaar/grimoire/searchproxy"
	"github.com/hazyhaar/grimoire/server"
	"github.com/hazyhaar/grimoire/settings"
)

func main() {
	cfg, err := daemon.LoadConfigFile(env("GRIMOIRE_CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if addr := env("GRIMOIRE_LISTEN", ""); addr != "" {
		cfg.ListenAddr = addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
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

	srv := server.New(server.Config{
		Settings:      settings.NewManager(cfg.SettingsPath),
		Search:        searchproxy.New(searchproxy.Config{Calls: calls, Logger: logger}),
		Calls:         calls,
		Logger:        logger,
		DefaultFolder: cfg.ProjectFolder,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	logger.Info("viewer server listening", "addr", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	logger.Info("viewer server stopped")
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
