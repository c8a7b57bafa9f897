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

type alertDraft struct {
	category enums.AlertCategory
	source   enums.AlertSource
	severity enums.AlertSeverity
	message  string
	queueID  *uuid.UUID
}

// raiseAlert opens an alert unless one for the same category and source is
// still unacknowledged on the branch. It reports whether a new alert was stored.
func (s *Service) raiseAlert(ctx context.Context, fx *sideEffects, scope Scope, draft alertDraft) (bool, error) {
	open, err := s.repo.FindOpenAlert(ctx, scope, draft.category, draft.source)
	if err != nil {
		return false, fmt.Errorf("find open alert: %w", err)
	}
	if open != nil {
		return false, nil
	}

	alert := Alert{
		ID:        uuid.New(),
		TenantID:  scope.TenantID,
		BranchID:  scope.BranchID,
		Category:  draft.category,
		Severity:  draft.severity,
		Source:    draft.source,
		Message:   draft.message,
		QueueID:   draft.queueID,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertAlert(ctx, alert); err != nil {
		if errors.Is(err, ErrAlertOpen) {
			return false, nil
		}
		return false, fmt.Errorf("insert alert: %w", err)
	}

	s.metrics.ObserveAlert(string(alert.Category), string(alert.Severity))
	s.audit(ctx, fx, scope, audit.ActionAlertRaised, entityAlert, alert.ID, "", map[string]any{
		"category": alert.Category,
		"severity": alert.Severity,
		"source":   alert.Source,
	})
	s.emit(ctx, fx, enums.EventOfflineAlertRaised, enums.AggregateAlert, alert.ID, alertEvent(alert))

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, scopeFields(scope))
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"alert_id": alert.ID.String(),
			"category": string(alert.Category),
			"severity": string(alert.Severity),
			"source":   string(alert.Source),
		})
		s.logg.Warn(logCtx, "offline alert raised")
	}
	return true, nil
}

// checkProlongedOffline warns when the oldest unsynced item of the branch has
// been waiting longer than the configured threshold.
func (s *Service) checkProlongedOffline(ctx context.Context, fx *sideEffects, scope Scope, now time.Time) error {
	items, err := s.repo.ListItems(ctx, scope, ItemFilter{
		States: []enums.QueueState{enums.QueueStatePending, enums.QueueStateFailed},
	})
	if err != nil {
		return fmt.Errorf("list unsynced items: %w", err)
	}
	for _, item := range items {
		if item.Terminal() {
			continue
		}
		age := now.Sub(item.CreatedAt)
		if age <= s.policy.ProlongedOfflineThreshold {
			return nil
		}
		queueID := item.ID
		_, err := s.raiseAlert(ctx, fx, scope, alertDraft{
			category: enums.AlertCategoryQueue,
			source:   enums.AlertSourceOfflineSLA,
			severity: enums.AlertSeverityWarn,
			message:  fmt.Sprintf("branch has unsynced operations older than %s", s.policy.ProlongedOfflineThreshold),
			queueID:  &queueID,
		})
		return err
	}
	return nil
}

// AcknowledgeAlert closes an open alert so the same condition can raise a new one.
func (s *Service) AcknowledgeAlert(ctx context.Context, tenantID, alertID uuid.UUID, actorID string) (Alert, error) {
	alert, err := s.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return Alert{}, notFoundOr(err, "alert")
	}
	if !alert.Open() {
		return Alert{}, stateConflict(fmt.Sprintf("alert %s already acknowledged", alertID))
	}
	now := s.now()
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = actorID
	if err := s.repo.UpdateAlert(ctx, alert); err != nil {
		return Alert{}, notFoundOr(err, "alert")
	}

	fx := &sideEffects{}
	s.audit(ctx, fx, Scope{TenantID: alert.TenantID, BranchID: alert.BranchID}, audit.ActionAlertAcknowledged, entityAlert, alert.ID, actorID, map[string]any{
		"source": alert.Source,
	})
	s.flush(ctx, fx, map[string]any{"alert_id": alert.ID.String()})
	return alert, nil
}
