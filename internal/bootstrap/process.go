package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/instance"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/migrate"
)

// LoadProcess reads .env when present, loads the config and returns the
// service logger configured from it. The returned logger is usable even when
// the config fails to load.
func LoadProcess(serviceName string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: serviceName, Instance: instance.GetID()})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Instance:    instance.GetID(),
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

// SignalContext ends on SIGINT or on the SIGTERM sent by the platform before
// it kills the container.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// OpenDatabase connects and applies dev migrations when enabled. The client
// is closed again if migrations fail.
func OpenDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

// Closer logs close failures so deferred cleanup never hides them.
func Closer(logg *logger.Logger, name string, close func() error) func() {
	return func() {
		if err := close(); err != nil {
			logg.Error(context.Background(), "error closing "+name, err)
		}
	}
}
