package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/possync-backend/internal/offline"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

// OfflineSyncer is the part of the offline service the sweep drives.
type OfflineSyncer interface {
	SweepTargets(ctx context.Context) ([]offline.Scope, error)
	SyncPass(ctx context.Context, scope offline.Scope) (offline.SyncResult, error)
}

type OfflineSyncJobParams struct {
	Logger  *logger.Logger
	Service OfflineSyncer
}

// NewOfflineSyncJob drains every branch that still holds pending or retryable
// queue items. A failing branch does not stop the sweep.
func NewOfflineSyncJob(params OfflineSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("offline service required")
	}
	return &offlineSyncJob{logg: params.Logger, svc: params.Service}, nil
}

type offlineSyncJob struct {
	logg *logger.Logger
	svc  OfflineSyncer
}

func (j *offlineSyncJob) Name() string { return "offline-sync-sweep" }

func (j *offlineSyncJob) Run(ctx context.Context) error {
	scopes, err := j.svc.SweepTargets(ctx)
	if err != nil {
		return fmt.Errorf("list sweep targets: %w", err)
	}

	var (
		errs   error
		totals offline.SyncResult
	)
	for _, scope := range scopes {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		result, err := j.svc.SyncPass(ctx, scope)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("branch %s: %w", scope, err))
			continue
		}
		totals.Processed += result.Processed
		totals.Confirmed += result.Confirmed
		totals.Conflicts += result.Conflicts
		totals.Failed += result.Failed
		totals.Deferred += result.Deferred
		totals.Expired += result.Expired
		totals.Exhausted += result.Exhausted
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"branches":  len(scopes),
		"processed": totals.Processed,
		"confirmed": totals.Confirmed,
		"conflicts": totals.Conflicts,
		"failed":    totals.Failed,
		"deferred":  totals.Deferred,
		"expired":   totals.Expired,
		"exhausted": totals.Exhausted,
		"errors":    len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "offline sync sweep complete")
	return errs
}
