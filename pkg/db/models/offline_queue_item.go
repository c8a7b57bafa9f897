package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/pkg/enums"
)

// OfflineQueueItem persists one queued device mutation and its retry metadata.
type OfflineQueueItem struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID         uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID         uuid.UUID            `gorm:"column:branch_id;type:uuid;not null"`
	DeviceID         *string              `gorm:"column:device_id"`
	IdempotencyKey   string               `gorm:"column:idempotency_key;not null"`
	EventType        enums.QueueEventType `gorm:"column:event_type;not null"`
	Payload          json.RawMessage      `gorm:"column:payload;type:jsonb;not null"`
	State            enums.QueueState     `gorm:"column:state;not null"`
	RetryCount       int                  `gorm:"column:retry_count;not null;default:0"`
	ReplayDeadlineAt time.Time            `gorm:"column:replay_deadline_at;not null"`
	NextRetryAt      *time.Time           `gorm:"column:next_retry_at"`
	ErrorCode        *string              `gorm:"column:error_code"`
	ErrorMessage     *string              `gorm:"column:error_message"`
	CreatedAt        time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;not null"`
}

// OfflineTransaction records that an idempotency key produced a committed effect.
type OfflineTransaction struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID       uuid.UUID            `gorm:"column:branch_id;type:uuid;not null"`
	IdempotencyKey string               `gorm:"column:idempotency_key;not null"`
	EventType      enums.QueueEventType `gorm:"column:event_type;not null"`
	SourceQueueID  *uuid.UUID           `gorm:"column:source_queue_id;type:uuid"`
	CommittedAt    time.Time            `gorm:"column:committed_at;not null"`
}

// OfflineConflict is the durable record of an undecidable reconciliation.
type OfflineConflict struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID         uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID         uuid.UUID            `gorm:"column:branch_id;type:uuid;not null"`
	QueueID          uuid.UUID            `gorm:"column:queue_id;type:uuid;not null"`
	ConflictType     enums.ConflictType   `gorm:"column:conflict_type;not null"`
	LocalValue       json.RawMessage      `gorm:"column:local_value;type:jsonb;not null"`
	ServerValue      json.RawMessage      `gorm:"column:server_value;type:jsonb;not null"`
	ResolutionStatus enums.ConflictStatus `gorm:"column:resolution_status;not null"`
	ResolutionNote   *string              `gorm:"column:resolution_note"`
	ResolvedBy       *string              `gorm:"column:resolved_by"`
	CreatedAt        time.Time            `gorm:"column:created_at;not null"`
	ResolvedAt       *time.Time           `gorm:"column:resolved_at"`
}

// OfflineAlert is an operational signal raised by the sync engine.
type OfflineAlert struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID       uuid.UUID           `gorm:"column:branch_id;type:uuid;not null"`
	Category       enums.AlertCategory `gorm:"column:category;not null"`
	Severity       enums.AlertSeverity `gorm:"column:severity;not null"`
	Source         enums.AlertSource   `gorm:"column:source;not null"`
	Message        string              `gorm:"column:message;not null"`
	QueueID        *uuid.UUID          `gorm:"column:queue_id;type:uuid"`
	AcknowledgedAt *time.Time          `gorm:"column:acknowledged_at"`
	AcknowledgedBy *string             `gorm:"column:acknowledged_by"`
	CreatedAt      time.Time           `gorm:"column:created_at;not null"`
}
