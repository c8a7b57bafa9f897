package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/enums"
)

const (
	queueKeyConstraint  = "ux_offline_queue_items_tenant_key"
	transactionKeyIndex = "ux_offline_transactions_tenant_key"
	openAlertIndex      = "ux_offline_alerts_open"
)

// GormRepository persists the offline tables through gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository binds the repository to a database handle.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) InsertItem(ctx context.Context, item QueueItem) error {
	row, err := itemToModel(item)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, queueKeyConstraint) || dbpkg.IsUniqueViolation(err, "") {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func (r *GormRepository) UpdateItem(ctx context.Context, item QueueItem) error {
	row, err := itemToModel(item)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&models.OfflineQueueItem{}).
		Where("tenant_id = ? AND id = ?", item.TenantID, item.ID).
		Updates(map[string]any{
			"state":         row.State,
			"retry_count":   row.RetryCount,
			"next_retry_at": row.NextRetryAt,
			"error_code":    row.ErrorCode,
			"error_message": row.ErrorMessage,
			"updated_at":    row.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) GetItem(ctx context.Context, tenantID, queueID uuid.UUID) (QueueItem, error) {
	var row models.OfflineQueueItem
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, queueID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return QueueItem{}, ErrNotFound
		}
		return QueueItem{}, err
	}
	return itemFromModel(row)
}

func (r *GormRepository) ListItems(ctx context.Context, scope Scope, filter ItemFilter) ([]QueueItem, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ?", scope.TenantID, scope.BranchID)
	if len(filter.States) > 0 {
		q = q.Where("state IN ?", filter.States)
	}
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	var rows []models.OfflineQueueItem
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := itemFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *GormRepository) HasItemWithKey(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OfflineQueueItem{}).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) ScopesWithStates(ctx context.Context, states ...enums.QueueState) ([]Scope, error) {
	type scopeRow struct {
		TenantID uuid.UUID
		BranchID uuid.UUID
	}
	q := r.db.WithContext(ctx).Model(&models.OfflineQueueItem{}).
		Distinct("tenant_id", "branch_id")
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var rows []scopeRow
	if err := q.Order("tenant_id").Order("branch_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Scope, 0, len(rows))
	for _, row := range rows {
		out = append(out, Scope{TenantID: row.TenantID, BranchID: row.BranchID})
	}
	return out, nil
}

func (r *GormRepository) AppendTransaction(ctx context.Context, rec TransactionRecord) error {
	row := models.OfflineTransaction{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		BranchID:       rec.BranchID,
		IdempotencyKey: rec.IdempotencyKey,
		EventType:      rec.EventType,
		SourceQueueID:  rec.SourceQueueID,
		CommittedAt:    rec.CommittedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, transactionKeyIndex) || dbpkg.IsUniqueViolation(err, "") {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func (r *GormRepository) FindTransaction(ctx context.Context, tenantID uuid.UUID, key string) (*TransactionRecord, error) {
	var row models.OfflineTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Order("committed_at ASC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &TransactionRecord{
		ID:             row.ID,
		TenantID:       row.TenantID,
		BranchID:       row.BranchID,
		IdempotencyKey: row.IdempotencyKey,
		EventType:      row.EventType,
		SourceQueueID:  row.SourceQueueID,
		CommittedAt:    row.CommittedAt,
	}, nil
}

func (r *GormRepository) DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("committed_at < ?", cutoff).
		Delete(&models.OfflineTransaction{})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) InsertConflict(ctx context.Context, conflict Conflict) error {
	row, err := conflictToModel(conflict)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *GormRepository) UpdateConflict(ctx context.Context, conflict Conflict) error {
	res := r.db.WithContext(ctx).Model(&models.OfflineConflict{}).
		Where("tenant_id = ? AND id = ?", conflict.TenantID, conflict.ID).
		Updates(map[string]any{
			"resolution_status": conflict.ResolutionStatus,
			"resolution_note":   nullableString(conflict.ResolutionNote),
			"resolved_by":       nullableString(conflict.ResolvedBy),
			"resolved_at":       conflict.ResolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) GetConflict(ctx context.Context, tenantID, conflictID uuid.UUID) (Conflict, error) {
	var row models.OfflineConflict
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, conflictID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Conflict{}, ErrNotFound
		}
		return Conflict{}, err
	}
	return conflictFromModel(row)
}

func (r *GormRepository) ListConflicts(ctx context.Context, scope Scope, status enums.ConflictStatus) ([]Conflict, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ?", scope.TenantID, scope.BranchID)
	if status != "" {
		q = q.Where("resolution_status = ?", status)
	}
	var rows []models.OfflineConflict
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Conflict, 0, len(rows))
	for _, row := range rows {
		c, err := conflictFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *GormRepository) InsertAlert(ctx context.Context, alert Alert) error {
	row := alertToModel(alert)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, openAlertIndex) || dbpkg.IsUniqueViolation(err, "") {
			return ErrAlertOpen
		}
		return err
	}
	return nil
}

func (r *GormRepository) UpdateAlert(ctx context.Context, alert Alert) error {
	res := r.db.WithContext(ctx).Model(&models.OfflineAlert{}).
		Where("tenant_id = ? AND id = ?", alert.TenantID, alert.ID).
		Updates(map[string]any{
			"acknowledged_at": alert.AcknowledgedAt,
			"acknowledged_by": nullableString(alert.AcknowledgedBy),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) GetAlert(ctx context.Context, tenantID, alertID uuid.UUID) (Alert, error) {
	var row models.OfflineAlert
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, alertID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Alert{}, ErrNotFound
		}
		return Alert{}, err
	}
	return alertFromModel(row), nil
}

func (r *GormRepository) FindOpenAlert(ctx context.Context, scope Scope, category enums.AlertCategory, source enums.AlertSource) (*Alert, error) {
	var row models.OfflineAlert
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ? AND category = ? AND source = ? AND acknowledged_at IS NULL",
			scope.TenantID, scope.BranchID, category, source).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	alert := alertFromModel(row)
	return &alert, nil
}

func (r *GormRepository) ListAlerts(ctx context.Context, scope Scope, openOnly bool) ([]Alert, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ?", scope.TenantID, scope.BranchID)
	if openOnly {
		q = q.Where("acknowledged_at IS NULL")
	}
	var rows []models.OfflineAlert
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, alertFromModel(row))
	}
	return out, nil
}

func itemToModel(item QueueItem) (models.OfflineQueueItem, error) {
	payload, err := EncodePayload(item.Payload)
	if err != nil {
		return models.OfflineQueueItem{}, err
	}
	return models.OfflineQueueItem{
		ID:               item.ID,
		TenantID:         item.TenantID,
		BranchID:         item.BranchID,
		DeviceID:         nullableString(item.DeviceID),
		IdempotencyKey:   item.IdempotencyKey,
		EventType:        item.EventType,
		Payload:          payload,
		State:            item.State,
		RetryCount:       item.RetryCount,
		ReplayDeadlineAt: item.ReplayDeadlineAt,
		NextRetryAt:      item.NextRetryAt,
		ErrorCode:        nullableString(string(item.ErrorCode)),
		ErrorMessage:     nullableString(item.ErrorMessage),
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}, nil
}

func itemFromModel(row models.OfflineQueueItem) (QueueItem, error) {
	payload, err := DecodePayload(row.EventType, row.Payload)
	if err != nil {
		return QueueItem{}, fmt.Errorf("queue item %s: %w", row.ID, err)
	}
	return QueueItem{
		ID:               row.ID,
		TenantID:         row.TenantID,
		BranchID:         row.BranchID,
		DeviceID:         derefString(row.DeviceID),
		IdempotencyKey:   row.IdempotencyKey,
		EventType:        row.EventType,
		Payload:          payload,
		State:            row.State,
		RetryCount:       row.RetryCount,
		ReplayDeadlineAt: row.ReplayDeadlineAt,
		NextRetryAt:      row.NextRetryAt,
		ErrorCode:        enums.QueueErrorCode(derefString(row.ErrorCode)),
		ErrorMessage:     derefString(row.ErrorMessage),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func conflictToModel(c Conflict) (models.OfflineConflict, error) {
	local, err := json.Marshal(c.LocalValue)
	if err != nil {
		return models.OfflineConflict{}, fmt.Errorf("encode local value: %w", err)
	}
	server, err := json.Marshal(c.ServerValue)
	if err != nil {
		return models.OfflineConflict{}, fmt.Errorf("encode server value: %w", err)
	}
	return models.OfflineConflict{
		ID:               c.ID,
		TenantID:         c.TenantID,
		BranchID:         c.BranchID,
		QueueID:          c.QueueID,
		ConflictType:     c.Type,
		LocalValue:       local,
		ServerValue:      server,
		ResolutionStatus: c.ResolutionStatus,
		ResolutionNote:   nullableString(c.ResolutionNote),
		ResolvedBy:       nullableString(c.ResolvedBy),
		CreatedAt:        c.CreatedAt,
		ResolvedAt:       c.ResolvedAt,
	}, nil
}

func conflictFromModel(row models.OfflineConflict) (Conflict, error) {
	c := Conflict{
		ID:               row.ID,
		TenantID:         row.TenantID,
		BranchID:         row.BranchID,
		QueueID:          row.QueueID,
		Type:             row.ConflictType,
		ResolutionStatus: row.ResolutionStatus,
		ResolutionNote:   derefString(row.ResolutionNote),
		ResolvedBy:       derefString(row.ResolvedBy),
		CreatedAt:        row.CreatedAt,
		ResolvedAt:       row.ResolvedAt,
	}
	if err := json.Unmarshal(row.LocalValue, &c.LocalValue); err != nil {
		return Conflict{}, fmt.Errorf("decode local value: %w", err)
	}
	if err := json.Unmarshal(row.ServerValue, &c.ServerValue); err != nil {
		return Conflict{}, fmt.Errorf("decode server value: %w", err)
	}
	return c, nil
}

func alertToModel(a Alert) models.OfflineAlert {
	return models.OfflineAlert{
		ID:             a.ID,
		TenantID:       a.TenantID,
		BranchID:       a.BranchID,
		Category:       a.Category,
		Severity:       a.Severity,
		Source:         a.Source,
		Message:        a.Message,
		QueueID:        a.QueueID,
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: nullableString(a.AcknowledgedBy),
		CreatedAt:      a.CreatedAt,
	}
}

func alertFromModel(row models.OfflineAlert) Alert {
	return Alert{
		ID:             row.ID,
		TenantID:       row.TenantID,
		BranchID:       row.BranchID,
		Category:       row.Category,
		Severity:       row.Severity,
		Source:         row.Source,
		Message:        row.Message,
		QueueID:        row.QueueID,
		AcknowledgedAt: row.AcknowledgedAt,
		AcknowledgedBy: derefString(row.AcknowledgedBy),
		CreatedAt:      row.CreatedAt,
	}
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
