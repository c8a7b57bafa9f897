package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/possync-backend/internal/bootstrap"
	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/metrics"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
	"github.com/angelmondragon/possync-backend/pkg/outbox/registry"
	"github.com/angelmondragon/possync-backend/pkg/pubsub"
)

func main() {
	dlqList := flag.Bool("dlq-list", false, "print dead-lettered events and exit")
	dlqType := flag.String("dlq-type", "", "event type filter for -dlq-list")
	dlqRequeue := flag.String("dlq-requeue", "", "event id to hand back to the publisher, then exit")
	flag.Parse()

	cfg, logg, err := bootstrap.LoadProcess("outbox-publisher")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cmd := dlqCommand{list: *dlqList, eventType: *dlqType, requeue: *dlqRequeue}
	if err := run(cfg, logg, cmd); err != nil {
		logg.Error(context.Background(), "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
}

// dlqCommand holds the operator flags; an empty one starts the publisher.
type dlqCommand struct {
	list      bool
	eventType string
	requeue   string
}

func (c dlqCommand) requested() bool {
	return c.list || c.requeue != ""
}

func run(cfg *config.Config, logg *logger.Logger, cmd dlqCommand) error {
	ctx, stop := bootstrap.SignalContext()
	defer stop()

	dbClient, err := bootstrap.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(logg, "database", dbClient.Close)()

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if cmd.requested() {
		return runDLQCommand(ctx, dlqRepo, cmd.list, cmd.eventType, cmd.requeue)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer bootstrap.Closer(logg, "pubsub client", pubsubClient.Close)()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}

// runDLQCommand serves the operator flags that inspect or replay dead letters.
func runDLQCommand(ctx context.Context, repo *outbox.DLQRepository, list bool, eventType, requeue string) error {
	if requeue != "" {
		eventID, err := uuid.Parse(requeue)
		if err != nil {
			return fmt.Errorf("invalid -dlq-requeue id %q: %w", requeue, err)
		}
		if err := repo.Requeue(ctx, eventID); err != nil {
			return err
		}
		fmt.Println("requeued", eventID)
		return nil
	}

	filter := enums.OutboxEventType(eventType)
	if filter != "" && !filter.IsValid() {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	rows, err := repo.List(ctx, filter, 0)
	if err != nil {
		return err
	}
	for _, row := range rows {
		msg := ""
		if row.ErrorMessage != nil {
			msg = *row.ErrorMessage
		}
		fmt.Printf("%s\t%s\t%s\t%d\t%s\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.Format(time.RFC3339), msg)
	}
	return nil
}
