package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"orderq/internal/config"
	"orderq/internal/database"
	"orderq/internal/logger"
	"orderq/internal/migration"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrator up|down")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orderq migrator: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.ServiceName, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "orderq migrator: %v\n", err)
		os.Exit(1)
	}
	log := logger.L().With(zap.String("component", "migrator"))

	m := &migration.Migrate{
		Db:  &database.PostgreSQL{URL: cfg.DatabaseURL},
		Log: log,
	}

	switch os.Args[1] {
	case "up":
		err = m.MigrateUp()
	case "down":
		err = m.MigrateDown()
	default:
		log.Fatal("unknown command", zap.String("command", os.Args[1]))
	}
	if err != nil {
		log.Fatal("migration failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
	log.Info("migration success", zap.String("command", os.Args[1]))
}
