package offline

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/internal/audit"
	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/internal/reports"
	"github.com/angelmondragon/possync-backend/pkg/db/models"
	"github.com/angelmondragon/possync-backend/pkg/outbox"
)

// PriceCatalog returns authoritative product prices. Unknown products yield CodeNotFound.
type PriceCatalog interface {
	CurrentPrice(ctx context.Context, tenantID, productID uuid.UUID, mode string) (inventory.Price, error)
}

// StockLedger applies stock movements atomically.
type StockLedger interface {
	ApplyMovements(ctx context.Context, tenantID, branchID uuid.UUID, key, reason string, movements []inventory.Movement) error
}

// LoyaltyLedger reads and writes customer point balances. Unknown customers yield CodeNotFound.
type LoyaltyLedger interface {
	Balance(ctx context.Context, tenantID, customerID uuid.UUID) (int64, error)
	ApplyPoints(ctx context.Context, tenantID, customerID uuid.UUID, delta int64, key, reason string) (int64, error)
}

// FeatureFlags resolves tenant feature gates.
type FeatureFlags interface {
	IsEnabled(ctx context.Context, tenantID uuid.UUID, key string) (bool, error)
}

// ReportGenerator produces report rows; generation is idempotent.
type ReportGenerator interface {
	Generate(ctx context.Context, tenantID, branchID uuid.UUID, templateID string, filters map[string]string) ([]reports.Row, error)
}

// AuditSink appends audit entries.
type AuditSink interface {
	Record(ctx context.Context, input audit.RecordInput) (*models.AuditEntry, error)
}

// EventEmitter publishes domain events.
type EventEmitter interface {
	Emit(ctx context.Context, event outbox.DomainEvent) error
}
