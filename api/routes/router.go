package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/possync-backend/api/controllers"
	"github.com/angelmondragon/possync-backend/api/middleware"
	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/possync-backend/pkg/redis"
)

// redisClient is the slice of the redis client the API uses: readiness and
// the operator response cache.
type redisClient interface {
	pkgredis.IdempotencyStore
	Ping(context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redis redisClient,
	offlineService controllers.OfflineService,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	deps := map[string]controllers.Pinger{}
	if dbP != nil {
		deps["db"] = dbP
	}
	if redis != nil {
		deps["redis"] = redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	r.Route("/api/v1/offline", func(r chi.Router) {
		r.Use(middleware.BranchScope(logg))

		replay := middleware.ReplayResponses(redis, logg, middleware.DefaultReplayTTL)
		replayResolution := middleware.ReplayResponses(redis, logg, middleware.ResolutionReplayTTL)

		// Enqueue owns its Idempotency-Key: a reuse is a 409, never a replay.
		r.Post("/queue", controllers.OfflineEnqueue(offlineService, logg))
		r.Get("/queue", controllers.OfflineQueue(offlineService, logg))
		r.With(replay).Post("/sync", controllers.OfflineSync(offlineService, logg))
		r.With(replay).Post("/reconcile", controllers.OfflineReconcile(offlineService, logg))

		r.Get("/conflicts", controllers.OfflineConflicts(offlineService, logg))
		r.With(replayResolution).Post("/conflicts/{conflictId}/resolve", controllers.OfflineResolveConflict(offlineService, logg))
		r.With(replay).Post("/conflicts/{conflictId}/escalate", controllers.OfflineEscalateConflict(offlineService, logg))

		r.Get("/alerts", controllers.OfflineAlerts(offlineService, logg))
		r.With(replay).Post("/alerts/{alertId}/ack", controllers.OfflineAcknowledgeAlert(offlineService, logg))
	})

	return r
}
