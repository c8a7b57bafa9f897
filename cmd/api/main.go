package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/possync-backend/api/routes"
	"github.com/angelmondragon/possync-backend/internal/bootstrap"
	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, logg, err := bootstrap.LoadProcess("api")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
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

	// PORT is set by the hosting platform and wins over the configured port.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, offlineService, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": server.Addr})
	logg.Info(ctx, "starting api server")

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
	return nil
}
