// grimoire-mcp exposes the knowledge base as MCP tools over stdio, for
// use as a local MCP server in agent configurations. Logging goes to
// stderr; stdout belongs to the protocol.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/grimoire/daemon"
	"github.com/hazyhaar/grimoire/kbstore"
	"github.com/hazyhaar/grimoire/mcptools"
	"github.com/hazyhaar/grimoire/settings"
)

const version = "1.0.0"

func main() {
	cfg, err := daemon.LoadConfigFile(env("GRIMOIRE_CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The project folder from settings wins over the daemon default, same
	// resolution as the host and the viewer.
	folder := cfg.ProjectFolder
	if st, err := settings.NewManager(cfg.SettingsPath).Load(); err == nil && st.ProjectFolder != "" {
		folder = st.ProjectFolder
	}

	store, err := kbstore.Open(folder, kbstore.WithLogger(logger))
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "grimoire", Version: version}, nil)
	mcptools.New(store, kbstore.OpenVocab(folder)).Register(srv)

	logger.Info("mcp server started", "folder", folder)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("mcp run", "error", err)
		os.Exit(1)
	}
	logger.Info("mcp server stopped")
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
