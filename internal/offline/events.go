package offline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
	"github.com/angelmondragon/possync-backend/pkg/outbox/payloads"
)

const (
	entityQueueItem   = "offline_queue_item"
	entityConflict    = "offline_conflict"
	entityAlert       = "offline_alert"
	entityTransaction = "offline_transaction"
)

// sideEffects collects audit and outbox failures. They never change the
// outcome of a transition; flush logs them once.
type sideEffects struct {
	err error
}

func (s *sideEffects) add(err error) {
	s.err = multierr.Append(s.err, err)
}

func (s *Service) flush(ctx context.Context, fx *sideEffects, fields map[string]any) {
	if fx == nil || fx.err == nil || s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithFields(logCtx, pkgerrors.Dump(fx.err).Fields())
	s.logg.Error(logCtx, "offline side effects failed", fx.err)
}

func (s *Service) audit(ctx context.Context, fx *sideEffects, scope Scope, action, entityType string, entityID uuid.UUID, actor string, metadata map[string]any) {
	if s.auditor == nil {
		return
	}
	var raw json.RawMessage
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			fx.add(err)
			return
		}
		raw = encoded
	}
	branchID := scope.BranchID
	_, err := s.auditor.Record(ctx, audit.RecordInput{
		TenantID:   scope.TenantID,
		BranchID:   &branchID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor,
		Metadata:   raw,
	})
	fx.add(err)
}

func (s *Service) emit(ctx context.Context, fx *sideEffects, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID, data any) {
	if s.events == nil {
		return
	}
	fx.add(s.events.Emit(ctx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Actor:         eventActor(data),
		Data:          data,
		Version:       1,
		OccurredAt:    s.now(),
	}))
}

// eventActor attributes queued items to their device and settled conflicts
// to the operator; everything else is the engine acting on its own.
func eventActor(data any) *outbox.ActorRef {
	switch e := data.(type) {
	case payloads.OfflineItemQueuedEvent:
		if e.DeviceID != "" {
			return &outbox.ActorRef{Kind: outbox.ActorDevice, ID: e.DeviceID}
		}
	case payloads.OfflineConflictEvent:
		if e.ResolvedBy != "" {
			return &outbox.ActorRef{Kind: outbox.ActorOperator, ID: e.ResolvedBy}
		}
	}
	return &outbox.ActorRef{Kind: outbox.ActorSystem}
}

func itemQueuedEvent(item QueueItem) payloads.OfflineItemQueuedEvent {
	return payloads.OfflineItemQueuedEvent{
		QueueID:        item.ID,
		TenantID:       item.TenantID,
		BranchID:       item.BranchID,
		EventType:      string(item.EventType),
		IdempotencyKey: item.IdempotencyKey,
		DeviceID:       item.DeviceID,
	}
}

func itemSyncedEvent(item QueueItem) payloads.OfflineItemSyncedEvent {
	return payloads.OfflineItemSyncedEvent{
		QueueID:        item.ID,
		TenantID:       item.TenantID,
		BranchID:       item.BranchID,
		EventType:      string(item.EventType),
		IdempotencyKey: item.IdempotencyKey,
		RetryCount:     item.RetryCount,
		ConfirmedAt:    item.UpdatedAt,
	}
}

func itemFailedEvent(item QueueItem) payloads.OfflineItemFailedEvent {
	return payloads.OfflineItemFailedEvent{
		QueueID:      item.ID,
		TenantID:     item.TenantID,
		BranchID:     item.BranchID,
		EventType:    string(item.EventType),
		ErrorCode:    string(item.ErrorCode),
		ErrorMessage: item.ErrorMessage,
		RetryCount:   item.RetryCount,
	}
}

func conflictEvent(c Conflict) payloads.OfflineConflictEvent {
	return payloads.OfflineConflictEvent{
		ConflictID:       c.ID,
		QueueID:          c.QueueID,
		TenantID:         c.TenantID,
		BranchID:         c.BranchID,
		ConflictType:     string(c.Type),
		ResolutionStatus: string(c.ResolutionStatus),
		LocalValue:       c.LocalValue,
		ServerValue:      c.ServerValue,
		ResolvedBy:       c.ResolvedBy,
		ResolutionNote:   c.ResolutionNote,
	}
}

func alertEvent(a Alert) payloads.OfflineAlertRaisedEvent {
	return payloads.OfflineAlertRaisedEvent{
		AlertID:  a.ID,
		TenantID: a.TenantID,
		BranchID: a.BranchID,
		Category: string(a.Category),
		Severity: string(a.Severity),
		Source:   string(a.Source),
		Message:  a.Message,
		QueueID:  a.QueueID,
	}
}

func itemFields(item QueueItem) map[string]any {
	return map[string]any{
		"tenant_id":  item.TenantID.String(),
		"branch_id":  item.BranchID.String(),
		"queue_id":   item.ID.String(),
		"event_type": string(item.EventType),
	}
}

func scopeFields(scope Scope) map[string]any {
	return map[string]any{
		"tenant_id": scope.TenantID.String(),
		"branch_id": scope.BranchID.String(),
	}
}

func directCommitEvent(rec TransactionRecord) payloads.OfflineDirectCommitEvent {
	return payloads.OfflineDirectCommitEvent{
		TransactionID:  rec.ID,
		TenantID:       rec.TenantID,
		BranchID:       rec.BranchID,
		EventType:      string(rec.EventType),
		IdempotencyKey: rec.IdempotencyKey,
		CommittedAt:    rec.CommittedAt,
	}
}
