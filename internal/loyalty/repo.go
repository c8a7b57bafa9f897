package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/possync-backend/pkg/db"
	"github.com/angelmondragon/possync-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
)

const ledgerKeyIndex = "ux_loyalty_ledger_tenant_key"

// Repository owns customer point balances and their history.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository binds the loyalty repository to a database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Balance returns the customer's current points. Unknown customers yield CodeNotFound.
func (r *Repository) Balance(ctx context.Context, tenantID, customerID uuid.UUID) (int64, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, customerID).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("customer %s not found", customerID))
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer balance")
	}
	return customer.PointsBalance, nil
}

// ApplyPoints adds delta to the balance and appends a ledger entry atomically.
// A redemption that would leave the balance negative is rejected. A key the
// tenant's ledger already carries leaves the balance untouched.
func (r *Repository) ApplyPoints(ctx context.Context, tenantID, customerID uuid.UUID, delta int64, key, reason string) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applied models.LoyaltyLedgerEntry
		found := tx.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).Limit(1).Find(&applied)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected > 0 {
			var customer models.Customer
			if err := tx.Where("tenant_id = ? AND id = ?", tenantID, customerID).First(&customer).Error; err != nil {
				return err
			}
			balance = customer.PointsBalance
			return nil
		}

		res := tx.Model(&models.Customer{}).
			Where("tenant_id = ? AND id = ?", tenantID, customerID).
			Updates(map[string]any{
				"points_balance": gorm.Expr("points_balance + ?", delta),
				"updated_at":     r.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("customer %s not found", customerID))
		}

		var customer models.Customer
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, customerID).First(&customer).Error; err != nil {
			return err
		}
		if customer.PointsBalance < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "insufficient loyalty points").
				WithDetails(map[string]any{"balance": customer.PointsBalance - delta, "delta": delta})
		}
		balance = customer.PointsBalance

		entry := models.LoyaltyLedgerEntry{
			ID:             uuid.New(),
			TenantID:       tenantID,
			CustomerID:     customerID,
			Delta:          delta,
			BalanceAfter:   balance,
			Reason:         reason,
			IdempotencyKey: key,
			CreatedAt:      r.now().UTC(),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		// A concurrent apply of the same key won; its write stands.
		if dbpkg.IsUniqueViolation(err, ledgerKeyIndex) || dbpkg.IsUniqueViolation(err, "") {
			return r.Balance(ctx, tenantID, customerID)
		}
		return 0, err
	}
	return balance, nil
}

// History lists ledger entries for a customer, oldest first.
func (r *Repository) History(ctx context.Context, tenantID, customerID uuid.UUID) ([]models.LoyaltyLedgerEntry, error) {
	var rows []models.LoyaltyLedgerEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
