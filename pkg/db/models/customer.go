package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer carries the authoritative loyalty points balance.
type Customer struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
	Name          string    `gorm:"column:name;not null"`
	PointsBalance int64     `gorm:"column:points_balance;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// LoyaltyLedgerEntry is the append-only history of balance changes.
type LoyaltyLedgerEntry struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
	CustomerID     uuid.UUID `gorm:"column:customer_id;type:uuid;not null"`
	Delta          int64     `gorm:"column:delta;not null"`
	BalanceAfter   int64     `gorm:"column:balance_after;not null"`
	Reason         string    `gorm:"column:reason;not null"`
	IdempotencyKey string    `gorm:"column:idempotency_key;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (LoyaltyLedgerEntry) TableName() string { return "loyalty_ledger" }
