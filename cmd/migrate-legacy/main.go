// Command migrate-legacy copies the single-account tokens stored on user
// rows into marketplace accounts. It is idempotent and safe to re-run.
//
//	migrate-legacy -db data/sellerhub.db -dry-run
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/sellerhub/internal/config"
	sqliteRepo "github.com/sakif/sellerhub/internal/repository/sqlite"
	"github.com/sakif/sellerhub/internal/service"
)

func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.DBPath, "path to the SQLite database")
	dryRun := flag.Bool("dry-run", false, "report what would be migrated without writing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if _, err := os.Stat(*dbPath); err != nil {
		logger.Error("database not found", slog.String("path", *dbPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := sqliteRepo.New(*dbPath, logger)
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := service.NewLegacyMigrator(db, logger, service.WithDryRun(*dryRun)).Run(ctx)
	if err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		db.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if report.Failed > 0 {
		db.Close()
		os.Exit(2)
	}
}
