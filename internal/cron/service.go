package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/possync-backend/pkg/logger"
	"github.com/angelmondragon/possync-backend/pkg/metrics"
)

const (
	defaultInterval = time.Minute
	releaseTimeout  = 2 * time.Second
)

// ServiceParams configure the cron service. CycleTimeout should stay below
// the lock TTL so a slow cycle gives up before another worker can take over.
type ServiceParams struct {
	Logger       *logger.Logger
	Registry     *Registry
	Lock         Lock
	Metrics      *metrics.CronJobMetrics
	Interval     time.Duration
	CycleTimeout time.Duration
}

// Service wakes on a fixed cadence and runs the jobs that are due. Only the
// instance that holds the lock runs a cycle; the others skip it.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.CronJobMetrics
	interval     time.Duration
	cycleTimeout time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:         params.Logger,
		registry:     registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     interval,
		cycleTimeout: params.CycleTimeout,
		now:          time.Now,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
// Job failures are logged and never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle runs every due job under the lock and returns their combined
// failures. A held lock is not an error.
func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncLockSkipped()
		s.logg.Debug(ctx, "another sync worker holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.lock.Release(releaseCtx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	due := s.registry.Due(s.now())
	if len(due) == 0 {
		return nil
	}
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	var errs error
	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		elapsed := time.Since(start)
		s.metrics.ObserveDuration(name, elapsed)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.metrics.IncFailure(name)
			s.logg.Error(jobCtx, "job failed", err)
			return
		}
		s.metrics.IncSuccess(name)
		s.logg.Info(jobCtx, "job completed")
	}()

	s.logg.Debug(jobCtx, "job start")
	return job.Run(jobCtx)
}
