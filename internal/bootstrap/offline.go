package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/internal/featureflags"
	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/internal/loyalty"
	"github.com/angelmondragon/possync-backend/internal/offline"
	"github.com/angelmondragon/possync-backend/internal/reports"
	"github.com/angelmondragon/possync-backend/pkg/config"
	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/metrics"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
)

// RedisStore is the slice of the redis client the offline engine shares
// across instances: committed keys, branch locks and flag overrides.
type RedisStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	LockKey(name string) string
	FlagKey(tenantID, flag string) string
}

type OfflineParams struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      RedisStore
	Logger     *logger.Logger
	Registerer prometheus.Registerer
}

// NewOfflineService wires the sync engine to postgres, redis and the outbox.
// The api and the sync worker build it the same way so both share locks and
// committed keys.
func NewOfflineService(params OfflineParams) (*offline.Service, error) {
	if params.Config == nil {
		return nil, errors.New("config required")
	}
	if params.DB == nil {
		return nil, errors.New("database required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	cfg := params.Config

	idempotency, err := offline.NewRedisIdempotencyStore(params.Redis, cfg.Offline.IdempotencyTTL())
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	locker, err := offline.NewRedisBranchLocker(params.Redis, cfg.Offline.SweepLockTTL)
	if err != nil {
		return nil, fmt.Errorf("branch locker: %w", err)
	}
	flags, err := featureflags.NewService(params.Redis, cfg.FeatureFlags.DefaultFlags)
	if err != nil {
		return nil, fmt.Errorf("feature flags: %w", err)
	}
	auditSvc, err := audit.NewService(audit.NewRepository(params.DB))
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	stock := inventory.NewRepository(params.DB)
	emitter := outbox.NewEmitter(params.DB, outbox.NewService(outbox.NewRepository(params.DB), params.Logger))

	return offline.NewService(offline.ServiceParams{
		Repository:  offline.NewGormRepository(params.DB),
		Idempotency: idempotency,
		Locker:      locker,
		Catalog:     stock,
		Stock:       stock,
		Loyalty:     loyalty.NewRepository(params.DB),
		Flags:       flags,
		Reports:     reports.NewGenerator(params.DB),
		Audit:       auditSvc,
		Events:      emitter,
		Metrics:     metrics.NewSyncMetrics(params.Registerer),
		Logger:      params.Logger,
		Policy:      offline.PolicyFromConfig(cfg.Offline),
	})
}
