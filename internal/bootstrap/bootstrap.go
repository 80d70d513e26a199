// Package bootstrap holds the startup steps shared by the commands: logger
// setup and opening the configured store.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/xtrntr/apextraders/internal/config"
	"github.com/xtrntr/apextraders/internal/db"
	"github.com/xtrntr/apextraders/internal/sqlite"
	"github.com/xtrntr/apextraders/internal/store"
)

// SetupLogger installs the process wide slog logger and returns it
func SetupLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
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
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// OpenStore connects to PostgreSQL or opens SQLite, depending on
// cfg.Driver. PostgreSQL gets the migration script applied first.
// The returned func releases the store.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		database, err := db.NewDB(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		script, err := os.ReadFile(cfg.Migrations)
		if err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("read migrations %q: %w", cfg.Migrations, err)
		}
		if err := database.Migrate(ctx, string(script)); err != nil {
			database.Close()
			return nil, nil, err
		}
		return database, database.Close, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
