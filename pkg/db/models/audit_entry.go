package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an immutable record of a state transition of interest.
type AuditEntry struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID   uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID   *uuid.UUID      `gorm:"column:branch_id;type:uuid"`
	Action     string          `gorm:"column:action;not null"`
	EntityType string          `gorm:"column:entity_type;not null"`
	EntityID   uuid.UUID       `gorm:"column:entity_id;type:uuid;not null"`
	ActorID    *string         `gorm:"column:actor_id"`
	Metadata   json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}
