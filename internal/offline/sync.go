package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/pkg/enums"
)

type syncOutcome string

const (
	outcomeDeferred  syncOutcome = "deferred"
	outcomeExpired   syncOutcome = "expired"
	outcomeConfirmed syncOutcome = "confirmed"
	outcomeConflict  syncOutcome = "conflict"
	outcomeDuplicate syncOutcome = "duplicate"
	outcomeFailed    syncOutcome = "failed"
	outcomeExhausted syncOutcome = "exhausted"
)

// syncStates are picked up by a pass. SYNCING items are only seen when a
// previous pass died mid-item, since passes of a branch never overlap.
var syncStates = []enums.QueueState{
	enums.QueueStatePending,
	enums.QueueStateFailed,
	enums.QueueStateSyncing,
}

// SyncPass drains the branch queue once in insertion order. Items waiting on
// backoff are deferred, expired items fail permanently, and everything else is
// confirmed, parked as a conflict, or scheduled for retry.
func (s *Service) SyncPass(ctx context.Context, scope Scope) (SyncResult, error) {
	if err := validateScope(scope); err != nil {
		return SyncResult{}, err
	}
	unlock, err := s.locker.Lock(ctx, scope)
	if err != nil {
		return SyncResult{}, fmt.Errorf("lock branch %s: %w", scope, err)
	}
	defer unlock()

	started := time.Now()
	defer func() { s.metrics.ObservePass("sync", time.Since(started)) }()

	items, err := s.repo.ListItems(ctx, scope, ItemFilter{States: syncStates})
	if err != nil {
		return SyncResult{}, fmt.Errorf("list queue: %w", err)
	}

	var result SyncResult
	for _, item := range items {
		if item.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.finalize()
			return result, err
		}
		outcome, err := s.syncItem(ctx, item)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.finalize()
				return result, ctxErr
			}
			s.logItemError(ctx, item, err, "offline item could not be persisted")
			outcome = outcomeFailed
		}
		result.Processed++
		s.metrics.ObserveOutcome(string(outcome))
		switch outcome {
		case outcomeDeferred:
			result.Deferred++
		case outcomeExpired:
			result.Expired++
		case outcomeConfirmed:
			result.Confirmed++
		case outcomeConflict:
			result.Conflicts++
		case outcomeDuplicate, outcomeFailed:
			result.Failed++
		case outcomeExhausted:
			result.Failed++
			result.Exhausted++
		}
	}

	fx := &sideEffects{}
	if err := s.checkProlongedOffline(ctx, fx, scope, s.now()); err != nil {
		fx.add(err)
	}
	s.flush(ctx, fx, scopeFields(scope))

	result.finalize()
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, scopeFields(scope))
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"processed": result.Processed,
			"confirmed": result.Confirmed,
			"conflicts": result.Conflicts,
			"failed":    result.Failed,
			"deferred":  result.Deferred,
			"expired":   result.Expired,
		})
		s.logg.Info(logCtx, "offline sync pass finished")
	}
	return result, nil
}

// syncItem moves one item through the gates. Only persistence failures of the
// item itself are returned; collaborator errors become retries. A returned
// error fails this item only and the pass moves on.
func (s *Service) syncItem(ctx context.Context, item QueueItem) (syncOutcome, error) {
	now := s.now()
	fx := &sideEffects{}
	defer s.flush(ctx, fx, itemFields(item))

	if item.NextRetryAt != nil && now.Before(*item.NextRetryAt) {
		return outcomeDeferred, nil
	}

	if now.After(item.ReplayDeadlineAt) {
		expired := item.withFailure(enums.QueueErrorReplayWindowExceeded,
			fmt.Sprintf("replay window of %s exceeded", s.policy.ReplayWindow), item.RetryCount, nil, now)
		if err := s.repo.UpdateItem(ctx, expired); err != nil {
			return "", err
		}
		queueID := item.ID
		if _, err := s.raiseAlert(ctx, fx, item.Scope(), alertDraft{
			category: enums.AlertCategoryQueue,
			source:   enums.AlertSourceReplayWindow,
			severity: enums.AlertSeverityBlock,
			message:  fmt.Sprintf("queued %s operation expired before it could sync", item.EventType),
			queueID:  &queueID,
		}); err != nil {
			fx.add(err)
		}
		s.audit(ctx, fx, item.Scope(), audit.ActionQueueExpired, entityQueueItem, item.ID, "", map[string]any{
			"idempotencyKey": item.IdempotencyKey,
		})
		s.emit(ctx, fx, enums.EventOfflineItemFailed, enums.AggregateQueueItem, item.ID, itemFailedEvent(expired))
		return outcomeExpired, nil
	}

	syncing := item.withState(enums.QueueStateSyncing, now)
	if err := s.repo.UpdateItem(ctx, syncing); err != nil {
		return "", err
	}

	ownership, err := s.registry.ownership(ctx, item.TenantID, item.IdempotencyKey, item.ID)
	if err != nil {
		return s.retry(ctx, fx, syncing, err)
	}
	switch ownership {
	case keyCommittedElsewhere:
		next := now.Add(s.policy.Backoff(syncing.RetryCount + 1))
		return s.markDuplicate(ctx, syncing, &next, now)
	case keyOwned:
		// Committed by this item before a crash; finish without applying again.
		if err := s.registry.MarkCommitted(ctx, item.TenantID, item.IdempotencyKey); err != nil {
			return s.retry(ctx, fx, syncing, err)
		}
		return s.confirm(ctx, fx, syncing, now)
	}

	detection, err := s.mutations.detect(ctx, syncing)
	if err != nil {
		return s.retry(ctx, fx, syncing, err)
	}
	if detection.Conflicting() {
		if err := s.park(ctx, fx, syncing, detection, now); err != nil {
			return "", err
		}
		return outcomeConflict, nil
	}

	if err := s.mutations.apply(ctx, syncing); err != nil {
		return s.retry(ctx, fx, syncing, err)
	}
	if err := s.registry.Commit(ctx, s.transactionFor(syncing, now)); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			next := now.Add(s.policy.Backoff(syncing.RetryCount + 1))
			return s.markDuplicate(ctx, syncing, &next, now)
		}
		return s.retry(ctx, fx, syncing, err)
	}
	return s.confirm(ctx, fx, syncing, now)
}

// markDuplicate fails the item because another operation committed its key.
func (s *Service) markDuplicate(ctx context.Context, item QueueItem, next *time.Time, now time.Time) (syncOutcome, error) {
	dup := item.withFailure(enums.QueueErrorDuplicateKey,
		"idempotency key already committed by another operation", item.RetryCount, next, now)
	if err := s.repo.UpdateItem(ctx, dup); err != nil {
		return "", err
	}
	return outcomeDuplicate, nil
}

func (s *Service) logItemError(ctx context.Context, item QueueItem, err error, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, itemFields(item))
	s.logg.Error(logCtx, msg, err)
}

func (s *Service) transactionFor(item QueueItem, now time.Time) TransactionRecord {
	source := item.ID
	return TransactionRecord{
		ID:             uuid.New(),
		TenantID:       item.TenantID,
		BranchID:       item.BranchID,
		IdempotencyKey: item.IdempotencyKey,
		EventType:      item.EventType,
		SourceQueueID:  &source,
		CommittedAt:    now,
	}
}

func (s *Service) confirm(ctx context.Context, fx *sideEffects, item QueueItem, now time.Time) (syncOutcome, error) {
	done := item.confirmed(now)
	if err := s.repo.UpdateItem(ctx, done); err != nil {
		return "", err
	}
	s.audit(ctx, fx, item.Scope(), audit.ActionQueueConfirmed, entityQueueItem, item.ID, "", map[string]any{
		"idempotencyKey": item.IdempotencyKey,
		"retryCount":     item.RetryCount,
	})
	s.emit(ctx, fx, enums.EventOfflineItemSynced, enums.AggregateQueueItem, item.ID, itemSyncedEvent(done))
	return outcomeConfirmed, nil
}

// park stores the conflict and leaves the item in CONFLICT for an operator.
func (s *Service) park(ctx context.Context, fx *sideEffects, item QueueItem, detection Detection, now time.Time) error {
	conflict := Conflict{
		ID:               uuid.New(),
		TenantID:         item.TenantID,
		BranchID:         item.BranchID,
		QueueID:          item.ID,
		Type:             detection.Type,
		LocalValue:       detection.LocalValue,
		ServerValue:      detection.ServerValue,
		ResolutionStatus: enums.ConflictStatusOpen,
		CreatedAt:        now,
	}
	if err := s.repo.InsertConflict(ctx, conflict); err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	if err := s.repo.UpdateItem(ctx, item.parked(now)); err != nil {
		return err
	}
	s.audit(ctx, fx, item.Scope(), audit.ActionConflictCreated, entityConflict, conflict.ID, "", map[string]any{
		"queueId":      item.ID,
		"conflictType": conflict.Type,
		"outcome":      detection.Outcome,
	})
	s.emit(ctx, fx, enums.EventOfflineConflictDetected, enums.AggregateConflict, conflict.ID, conflictEvent(conflict))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, itemFields(item))
		logCtx = s.logg.WithField(logCtx, "conflict_type", string(conflict.Type))
		s.logg.Warn(logCtx, "offline item parked as conflict")
	}
	return nil
}

// retry records a failed attempt. The item exhausts after MaxRetryAttempts
// and then needs an operator.
func (s *Service) retry(ctx context.Context, fx *sideEffects, item QueueItem, cause error) (syncOutcome, error) {
	now := s.now()
	attempts := item.RetryCount + 1
	if attempts >= s.policy.MaxRetryAttempts {
		exhausted := item.withFailure(enums.QueueErrorRetryExhausted, cause.Error(), attempts, nil, now)
		if err := s.repo.UpdateItem(ctx, exhausted); err != nil {
			return "", err
		}
		queueID := item.ID
		if _, err := s.raiseAlert(ctx, fx, item.Scope(), alertDraft{
			category: enums.AlertCategoryRisk,
			source:   enums.AlertSourceRetryExhausted,
			severity: enums.AlertSeverityReadOnly,
			message:  fmt.Sprintf("queued %s operation failed %d times", item.EventType, attempts),
			queueID:  &queueID,
		}); err != nil {
			fx.add(err)
		}
		s.audit(ctx, fx, item.Scope(), audit.ActionQueueExhausted, entityQueueItem, item.ID, "", map[string]any{
			"retryCount": attempts,
			"error":      cause.Error(),
		})
		s.emit(ctx, fx, enums.EventOfflineItemFailed, enums.AggregateQueueItem, item.ID, itemFailedEvent(exhausted))
		return outcomeExhausted, nil
	}

	next := now.Add(s.policy.Backoff(attempts))
	failed := item.withFailure(enums.QueueErrorSyncFailed, cause.Error(), attempts, &next, now)
	if err := s.repo.UpdateItem(ctx, failed); err != nil {
		return "", err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, itemFields(item))
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"retry_count":   attempts,
			"next_retry_at": next.Format(time.RFC3339Nano),
			"error":         cause.Error(),
		})
		s.logg.Warn(logCtx, "offline item sync failed")
	}
	return outcomeFailed, nil
}
