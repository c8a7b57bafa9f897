package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product is the tenant catalog entry a branch sells.
type Product struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID  uuid.UUID      `gorm:"column:tenant_id;type:uuid;not null"`
	SKU       string         `gorm:"column:sku;not null"`
	Name      string         `gorm:"column:name;not null"`
	Modes     pq.StringArray `gorm:"column:modes;type:text[];not null"`
	IsActive  bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductPrice is the authoritative unit price of a product in one selling mode.
// UpdatedAt only moves when the price row is written.
type ProductPrice struct {
	TenantID  uuid.UUID       `gorm:"column:tenant_id;type:uuid;primaryKey"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;primaryKey"`
	Mode      string          `gorm:"column:mode;primaryKey"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}
