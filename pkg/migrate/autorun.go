package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

// bootSkipReason says why a binary should leave the schema alone at start, or
// "" when pending migrations must be applied. Only a dev Postgres database with
// SMARTPAY_AUTO_MIGRATE set qualifies; SQLite schemas come from AutoMigrate.
func bootSkipReason(cfg *config.Config) string {
	switch {
	case cfg == nil:
		return "no config"
	case !cfg.App.IsDev():
		return "not a dev environment"
	case !cfg.FeatureFlags.AutoMigrate:
		return "auto migrate disabled"
	case cfg.DB.IsSQLite():
		return "sqlite driver"
	}
	return ""
}

// ApplyOnBoot brings a dev database up to the newest migration in DefaultDir
// before the api, publisher or cron worker starts serving. The migration
// files are validated first so a malformed file stops boot instead of being
// half applied.
func ApplyOnBoot(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if reason := bootSkipReason(cfg); reason != "" {
		if logg != nil {
			logg.Debug(logg.WithField(ctx, "reason", reason), "schema migration skipped")
		}
		return nil
	}

	files, err := ValidateDir(DefaultDir)
	if err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	if err := goose.SetDialect(DefaultDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	from, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	to, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"from_version": from,
			"to_version":   to,
			"files":        files,
		}), "schema migrated")
	}
	return nil
}
