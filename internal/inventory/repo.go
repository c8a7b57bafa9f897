package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/possync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
)

// Movement is a signed stock change for one product.
type Movement struct {
	ProductID uuid.UUID `json:"productId"`
	Delta     int       `json:"delta"`
}

// Price is the authoritative unit price of a product in a selling mode.
type Price struct {
	ProductID uuid.UUID
	Mode      string
	UnitPrice decimal.Decimal
	UpdatedAt time.Time
}

// Repository reads catalog prices and applies stock movements.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds the inventory repository to a database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// CurrentPrice returns the server price for a product in the given mode.
func (r *Repository) CurrentPrice(ctx context.Context, tenantID, productID uuid.UUID, mode string) (Price, error) {
	var row models.ProductPrice
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND mode = ?", tenantID, productID, mode).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Price{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no %s price for product %s", mode, productID))
		}
		return Price{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product price")
	}
	return Price{
		ProductID: row.ProductID,
		Mode:      row.Mode,
		UnitPrice: row.UnitPrice,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// OnHand returns the current stock level; a missing row counts as zero.
func (r *Repository) OnHand(ctx context.Context, tenantID, branchID, productID uuid.UUID) (int, error) {
	var row models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND branch_id = ? AND product_id = ?", tenantID, branchID, productID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.OnHandQty, nil
}

// ApplyMovements applies every movement and its log rows in one transaction.
// Movements already logged under key are not applied again.
func (r *Repository) ApplyMovements(ctx context.Context, tenantID, branchID uuid.UUID, key, reason string, movements []Movement) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if len(movements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applied int64
		if err := tx.Model(&models.InventoryLog{}).
			Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
			Count(&applied).Error; err != nil {
			return err
		}
		if applied > 0 {
			return nil
		}

		now := r.now().UTC()
		for _, mv := range movements {
			if mv.ProductID == uuid.Nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "movement product id is required")
			}
			item := models.InventoryItem{
				TenantID:  tenantID,
				BranchID:  branchID,
				ProductID: mv.ProductID,
				OnHandQty: mv.Delta,
				UpdatedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "tenant_id"}, {Name: "branch_id"}, {Name: "product_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"on_hand_qty": gorm.Expr("inventory_items.on_hand_qty + ?", mv.Delta),
					"updated_at":  now,
				}),
			}).Create(&item).Error; err != nil {
				return fmt.Errorf("apply movement for %s: %w", mv.ProductID, err)
			}

			var current models.InventoryItem
			if err := tx.Where("tenant_id = ? AND branch_id = ? AND product_id = ?", tenantID, branchID, mv.ProductID).
				First(&current).Error; err != nil {
				return err
			}

			entry := models.InventoryLog{
				ID:             uuid.New(),
				TenantID:       tenantID,
				BranchID:       branchID,
				ProductID:      mv.ProductID,
				Delta:          mv.Delta,
				QtyAfter:       current.OnHandQty,
				Reason:         reason,
				IdempotencyKey: key,
				CreatedAt:      now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Logs lists the movements applied under an idempotency key.
func (r *Repository) Logs(ctx context.Context, tenantID uuid.UUID, key string) ([]models.InventoryLog, error) {
	var rows []models.InventoryLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
