package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/possync-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

// TransactionPruner drops transaction records older than a cutoff.
type TransactionPruner interface {
	PruneTransactions(ctx context.Context, cutoff time.Time) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// retentionJob deletes rows older than now minus retention. Each table gets
// its own instance so they are scheduled and measured separately.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	prune     func(ctx context.Context, cutoff time.Time) (int64, error)
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	}), "retention cleanup complete")
	return nil
}

type TransactionRetentionJobParams struct {
	Logger  *logger.Logger
	Service TransactionPruner
	// Retention must cover the replay window so a replayable key is never forgotten.
	Retention time.Duration
}

func NewTransactionRetentionJob(params TransactionRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Service == nil:
		return nil, errors.New("offline service required")
	case params.Retention <= 0:
		return nil, errors.New("transaction retention must be positive")
	}
	return &retentionJob{
		name:      "offline-transaction-retention",
		logg:      params.Logger,
		retention: params.Retention,
		prune:     params.Service.PruneTransactions,
		now:       time.Now,
	}, nil
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Retention  time.Duration
}

// NewOutboxRetentionJob prunes published outbox rows. Unpublished and
// dead-lettered rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &retentionJob{
		name:      "outbox-retention",
		logg:      params.Logger,
		retention: retention,
		prune: func(ctx context.Context, cutoff time.Time) (int64, error) {
			var deleted int64
			err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
				n, err := params.Repository.DeletePublishedBefore(tx, cutoff)
				deleted = n
				return err
			})
			return deleted, err
		},
		now: time.Now,
	}, nil
}
