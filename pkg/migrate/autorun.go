package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at startup when running in dev
// with POSSYNC_AUTO_MIGRATE set. SQLite databases are skipped because the
// migrations use Postgres types.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	if cfg.DB.IsSQLite() {
		logg.Warn(ctx, "migrate.autorun.skipped_sqlite")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	pending, err := Pending(ctx, sqlDB, "")
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logg.Info(ctx, "migrate.autorun.up_to_date")
		return nil
	}

	ctx = logg.WithField(ctx, "pending", pending)
	logg.Info(ctx, "migrate.autorun.start")
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "migrate.autorun.complete")
	return nil
}
