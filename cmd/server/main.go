// Package main is the entry point for the to-do API server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal — its job is to:
// 1. Read configuration (from env vars and an optional YAML file)
// 2. Create dependencies (logger)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// A project might have multiple executables (e.g., cmd/server, cmd/migrate, cmd/cli).
// Each gets its own directory with its own main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/todo-api/internal/config"
	"github.com/sakif/todo-api/internal/logger"
	"github.com/sakif/todo-api/internal/server"
)

// startupTimeout bounds connecting to the store and running migrations.
const startupTimeout = 30 * time.Second

func main() {
	// === 1. READ CONFIGURATION ===
	// Defaults, then CONFIG_FILE (YAML), then environment variables.
	// Every missing required setting is reported at once.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT picks text (human-readable) or json (log shippers).
	// Log levels (from least to most severe): Debug → Info → Warn → Error
	log := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	// === 3. CREATE AND START THE SERVER ===
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	srv, err := server.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
