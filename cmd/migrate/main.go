package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/migrate"
)

const (
	serviceName = "migrate"
	usage       = `usage: migrate [-dir DIR] <command> [arg]

commands:
  up              apply all pending migrations
  down            roll back the latest migration
  status          print applied and pending migrations
  to VERSION      migrate up or down to VERSION (YYYYMMDDHHMMSS)
  create NAME     write a new timestamped SQL migration
  validate        check goose annotations and version uniqueness`
)

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	command, arg := flag.Arg(0), flag.Arg(1)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: serviceName})
	ctx := logg.WithFields(context.Background(), map[string]any{"command": command, "dir": *dir})

	if err := run(ctx, logg, *dir, command, arg); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, dir, command, arg string) error {
	// file-only commands need neither config nor a database
	switch command {
	case "create":
		if arg == "" {
			return errors.New("create needs a migration name")
		}
		path, err := migrate.CreateSQLMigration(dir, arg)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		n, err := migrate.ValidateDir(dir)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "files", n), "migrations valid")
		return nil
	case "up", "down", "status", "to":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DB.IsSQLite() {
		return errors.New("migrations target postgres; sqlite schemas come from the test harness")
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}

	if command == "to" {
		if arg == "" {
			return errors.New("to needs a target version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, dir, arg)
	}
	return migrate.Run(ctx, sqlDB, dir, command)
}
