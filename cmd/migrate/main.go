package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		logger.Error("usage: migrate <up|down|version>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	m, err := postgres.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Error("failed to create migrator", "err", err)
		os.Exit(1)
	}
	defer func() { _ = m.Close() }()

	switch args[0] {
	case "up":
		changed, err := m.Up()
		if err != nil {
			logger.Error("migration up failed", "err", err)
			os.Exit(1)
		}
		if !changed {
			logger.Info("no pending migrations")
			return
		}
		logger.Info("migrations applied successfully")

	case "down":
		changed, err := m.Down()
		if err != nil {
			logger.Error("migration down failed", "err", err)
			os.Exit(1)
		}
		if !changed {
			logger.Info("no migrations to rollback")
			return
		}
		logger.Info("migration rolled back successfully")

	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			logger.Error("failed to get version", "err", err)
			os.Exit(1)
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))

	default:
		logger.Error("unknown command", "command", args[0])
		os.Exit(1)
	}
}
