package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/floroz/hammer/pkg/config"
	"github.com/floroz/hammer/pkg/logging"
	"github.com/floroz/hammer/services/auction-service/migrations"
)

// migrate applies or rolls back the embedded schema: migrate [up|down|status].
func main() {
	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)
	if err := cfg.RequireDatabase(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		logger.Error("Failed to create migration provider", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			logger.Error("Migration failed", "error", err)
			os.Exit(1)
		}
		for _, r := range results {
			logger.Info("Applied migration", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration.String())
		}
	case "down":
		r, err := provider.Down(ctx)
		if err != nil {
			logger.Error("Rollback failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Rolled back migration", "version", r.Source.Version)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			logger.Error("Failed to read migration status", "error", err)
			os.Exit(1)
		}
		for _, s := range statuses {
			logger.Info("Migration", "version", s.Source.Version, "state", string(s.State))
		}
	default:
		logger.Error("Unknown command, expected up, down or status", "command", command)
		os.Exit(2)
	}
}
