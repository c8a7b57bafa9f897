package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
)

var reconcileEventTypes = []enums.QueueEventType{
	enums.QueueEventLoyalty,
	enums.QueueEventReport,
}

// Reconcile drains pending loyalty and report items of a branch on demand.
// It skips the backoff and expiry gates and never consumes retry budget;
// failures are classified so operators can see why an item is stuck.
func (s *Service) Reconcile(ctx context.Context, scope Scope) (ReconcileResult, error) {
	if err := validateScope(scope); err != nil {
		return ReconcileResult{}, err
	}
	unlock, err := s.locker.Lock(ctx, scope)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("lock branch %s: %w", scope, err)
	}
	defer unlock()

	started := time.Now()
	defer func() { s.metrics.ObservePass("reconcile", time.Since(started)) }()

	items, err := s.repo.ListItems(ctx, scope, ItemFilter{
		States:     []enums.QueueState{enums.QueueStatePending, enums.QueueStateFailed},
		EventTypes: reconcileEventTypes,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list queue: %w", err)
	}

	var result ReconcileResult
	for _, item := range items {
		if item.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := s.reconcileItem(ctx, item)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			s.logItemError(ctx, item, err, "offline item could not be persisted")
			outcome = outcomeFailed
		}
		result.Processed++
		s.metrics.ObserveOutcome(string(outcome))
		switch outcome {
		case outcomeConfirmed:
			result.Confirmed++
		case outcomeConflict:
			result.Conflicts++
		case outcomeDuplicate:
			result.Duplicates++
		default:
			result.Failed++
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, scopeFields(scope))
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"processed":  result.Processed,
			"confirmed":  result.Confirmed,
			"conflicts":  result.Conflicts,
			"failed":     result.Failed,
			"duplicates": result.Duplicates,
		})
		s.logg.Info(logCtx, "offline reconcile finished")
	}
	return result, nil
}

func (s *Service) reconcileItem(ctx context.Context, item QueueItem) (syncOutcome, error) {
	now := s.now()
	fx := &sideEffects{}
	defer s.flush(ctx, fx, itemFields(item))

	syncing := item.withState(enums.QueueStateSyncing, now)
	if err := s.repo.UpdateItem(ctx, syncing); err != nil {
		return "", err
	}

	ownership, err := s.registry.ownership(ctx, item.TenantID, item.IdempotencyKey, item.ID)
	if err != nil {
		return s.classify(ctx, syncing, err, now)
	}
	switch ownership {
	case keyCommittedElsewhere:
		return s.markDuplicate(ctx, syncing, nil, now)
	case keyOwned:
		if err := s.registry.MarkCommitted(ctx, item.TenantID, item.IdempotencyKey); err != nil {
			return s.classify(ctx, syncing, err, now)
		}
		return s.confirm(ctx, fx, syncing, now)
	}

	detection, err := s.mutations.detect(ctx, syncing)
	if err != nil {
		return s.classify(ctx, syncing, err, now)
	}
	if detection.Conflicting() {
		if err := s.park(ctx, fx, syncing, detection, now); err != nil {
			return "", err
		}
		return outcomeConflict, nil
	}
	if err := s.mutations.apply(ctx, syncing); err != nil {
		return s.classify(ctx, syncing, err, now)
	}
	if err := s.registry.Commit(ctx, s.transactionFor(syncing, now)); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return s.markDuplicate(ctx, syncing, nil, now)
		}
		return s.classify(ctx, syncing, err, now)
	}
	return s.confirm(ctx, fx, syncing, now)
}

// classify marks the item FAILED with a code derived from the error, keeping
// its retry count so the next sync pass retries it immediately.
func (s *Service) classify(ctx context.Context, item QueueItem, cause error, now time.Time) (syncOutcome, error) {
	failed := item.withFailure(errorCodeFor(cause), cause.Error(), item.RetryCount, nil, now)
	if err := s.repo.UpdateItem(ctx, failed); err != nil {
		return "", err
	}
	return outcomeFailed, nil
}

func errorCodeFor(err error) enums.QueueErrorCode {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeFeatureOff:
		return enums.QueueErrorFeatureDisabled
	case pkgerrors.CodeNotFound:
		return enums.QueueErrorNotFound
	case pkgerrors.CodeValidation:
		return enums.QueueErrorValidation
	default:
		return enums.QueueErrorSyncFailed
	}
}

// ResolveConflict accepts the queued operation as adjudicated by an operator:
// the conflict closes, the item is confirmed, and the key is committed so the
// operation can never be replayed. The mutation itself is not re-applied; the
// operator reconciles server state as part of the resolution.
func (s *Service) ResolveConflict(ctx context.Context, tenantID, conflictID uuid.UUID, resolverID, note string) (Conflict, error) {
	resolverID = strings.TrimSpace(resolverID)
	if resolverID == "" {
		return Conflict{}, validationErr("resolver id is required")
	}
	conflict, err := s.repo.GetConflict(ctx, tenantID, conflictID)
	if err != nil {
		return Conflict{}, notFoundOr(err, "conflict")
	}
	scope := Scope{TenantID: conflict.TenantID, BranchID: conflict.BranchID}
	unlock, err := s.locker.Lock(ctx, scope)
	if err != nil {
		return Conflict{}, fmt.Errorf("lock branch %s: %w", scope, err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent resolution may have won.
	conflict, err = s.repo.GetConflict(ctx, tenantID, conflictID)
	if err != nil {
		return Conflict{}, notFoundOr(err, "conflict")
	}
	if !conflict.ResolutionStatus.Resolvable() {
		return Conflict{}, stateConflict(fmt.Sprintf("conflict %s is %s", conflictID, conflict.ResolutionStatus))
	}
	item, err := s.repo.GetItem(ctx, tenantID, conflict.QueueID)
	if err != nil {
		return Conflict{}, notFoundOr(err, "queue item")
	}
	if item.State != enums.QueueStateConflict {
		return Conflict{}, stateConflict(fmt.Sprintf("queue item %s is %s", item.ID, item.State))
	}

	now := s.now()
	ownership, err := s.registry.ownership(ctx, tenantID, item.IdempotencyKey, item.ID)
	if err != nil {
		return Conflict{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup failed")
	}
	switch ownership {
	case keyCommittedElsewhere:
		return Conflict{}, duplicateKeyErr(item.IdempotencyKey)
	case keyOwned:
		if err := s.registry.MarkCommitted(ctx, tenantID, item.IdempotencyKey); err != nil {
			return Conflict{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark key committed")
		}
	default:
		if err := s.registry.Commit(ctx, s.transactionFor(item, now)); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return Conflict{}, duplicateKeyErr(item.IdempotencyKey)
			}
			return Conflict{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit transaction")
		}
	}

	conflict.ResolutionStatus = enums.ConflictStatusResolved
	conflict.ResolutionNote = strings.TrimSpace(note)
	conflict.ResolvedBy = resolverID
	conflict.ResolvedAt = &now
	if err := s.repo.UpdateConflict(ctx, conflict); err != nil {
		return Conflict{}, fmt.Errorf("update conflict: %w", err)
	}
	done := item.confirmed(now)
	if err := s.repo.UpdateItem(ctx, done); err != nil {
		return Conflict{}, fmt.Errorf("confirm queue item: %w", err)
	}

	fx := &sideEffects{}
	s.audit(ctx, fx, scope, audit.ActionConflictResolved, entityConflict, conflict.ID, resolverID, map[string]any{
		"queueId": item.ID,
		"note":    conflict.ResolutionNote,
	})
	s.emit(ctx, fx, enums.EventOfflineConflictResolved, enums.AggregateConflict, conflict.ID, conflictEvent(conflict))
	s.emit(ctx, fx, enums.EventOfflineItemSynced, enums.AggregateQueueItem, item.ID, itemSyncedEvent(done))
	s.flush(ctx, fx, itemFields(item))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, itemFields(item))
		logCtx = s.logg.WithField(logCtx, "conflict_id", conflict.ID.String())
		s.logg.Info(logCtx, "offline conflict resolved")
	}
	return conflict, nil
}

// EscalateConflict hands an open conflict to a higher tier and raises a
// CONFLICT alert for the branch.
func (s *Service) EscalateConflict(ctx context.Context, tenantID, conflictID uuid.UUID, actorID, note string) (Conflict, error) {
	conflict, err := s.repo.GetConflict(ctx, tenantID, conflictID)
	if err != nil {
		return Conflict{}, notFoundOr(err, "conflict")
	}
	scope := Scope{TenantID: conflict.TenantID, BranchID: conflict.BranchID}
	unlock, err := s.locker.Lock(ctx, scope)
	if err != nil {
		return Conflict{}, fmt.Errorf("lock branch %s: %w", scope, err)
	}
	defer unlock()

	conflict, err = s.repo.GetConflict(ctx, tenantID, conflictID)
	if err != nil {
		return Conflict{}, notFoundOr(err, "conflict")
	}
	if conflict.ResolutionStatus != enums.ConflictStatusOpen {
		return Conflict{}, stateConflict(fmt.Sprintf("conflict %s is %s", conflictID, conflict.ResolutionStatus))
	}

	conflict.ResolutionStatus = enums.ConflictStatusEscalated
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		conflict.ResolutionNote = trimmed
	}
	if err := s.repo.UpdateConflict(ctx, conflict); err != nil {
		return Conflict{}, fmt.Errorf("update conflict: %w", err)
	}

	fx := &sideEffects{}
	queueID := conflict.QueueID
	if _, err := s.raiseAlert(ctx, fx, scope, alertDraft{
		category: enums.AlertCategoryConflict,
		source:   enums.AlertSourceConflictEscalation,
		severity: enums.AlertSeverityWarn,
		message:  fmt.Sprintf("%s conflict escalated for review", conflict.Type),
		queueID:  &queueID,
	}); err != nil {
		fx.add(err)
	}
	s.audit(ctx, fx, scope, audit.ActionConflictEscalated, entityConflict, conflict.ID, strings.TrimSpace(actorID), map[string]any{
		"queueId": conflict.QueueID,
		"note":    conflict.ResolutionNote,
	})
	s.emit(ctx, fx, enums.EventOfflineConflictEscalate, enums.AggregateConflict, conflict.ID, conflictEvent(conflict))
	s.flush(ctx, fx, map[string]any{"conflict_id": conflict.ID.String()})
	return conflict, nil
}
