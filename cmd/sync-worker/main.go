package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/possync-backend/internal/bootstrap"
	"github.com/angelmondragon/possync-backend/internal/cron"
	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/metrics"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
	"github.com/angelmondragon/possync-backend/pkg/redis"
)

const (
	lockNameFormat = "sync-worker:%s"
	retentionEvery = time.Hour
)

func main() {
	cfg, logg, err := bootstrap.LoadProcess("sync-worker")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := bootstrap.SignalContext()
	defer stop()

	dbClient, err := bootstrap.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(logg, "database", dbClient.Close)()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer bootstrap.Closer(logg, "redis", redisClient.Close)()

	offlineService, err := bootstrap.NewOfflineService(bootstrap.OfflineParams{
		Config:     cfg,
		DB:         dbClient.DB(),
		Redis:      redisClient,
		Logger:     logg,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("offline service: %w", err)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, offlineService)
	if err != nil {
		return fmt.Errorf("cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Offline.SweepLockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Offline.SweepInterval,
		// Stop a cycle well before the lock can expire under it.
		CycleTimeout: cfg.Offline.SweepLockTTL * 4 / 5,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Offline.SweepInterval.String(),
	})
	metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting sync worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "sync worker shutting down gracefully")
	return nil
}

type offlineJobsService interface {
	cron.OfflineSyncer
	cron.TransactionPruner
}

// buildRegistry sweeps on every cycle and prunes hourly.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svc offlineJobsService) (*cron.Registry, error) {
	sweep, err := cron.NewOfflineSyncJob(cron.OfflineSyncJobParams{Logger: logg, Service: svc})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewTransactionRetentionJob(cron.TransactionRetentionJobParams{
		Logger:    logg,
		Service:   svc,
		Retention: cfg.Offline.IdempotencyTTL(),
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	registry := cron.NewRegistry(sweep)
	registry.Schedule(retention, retentionEvery)
	registry.Schedule(outboxRetention, retentionEvery)
	return registry, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env)
}
