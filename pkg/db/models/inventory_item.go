package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks on-hand stock per branch and product.
type InventoryItem struct {
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;primaryKey"`
	BranchID  uuid.UUID `gorm:"column:branch_id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	OnHandQty int       `gorm:"column:on_hand_qty;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// InventoryLog is one applied stock movement.
type InventoryLog struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
	BranchID       uuid.UUID `gorm:"column:branch_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Delta          int       `gorm:"column:delta;not null"`
	QtyAfter       int       `gorm:"column:qty_after;not null"`
	Reason         string    `gorm:"column:reason;not null"`
	IdempotencyKey string    `gorm:"column:idempotency_key;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}
