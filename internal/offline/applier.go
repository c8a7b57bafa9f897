package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/possync-backend/internal/featureflags"
	"github.com/angelmondragon/possync-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
	"github.com/angelmondragon/possync-backend/pkg/logger"
)

const (
	reasonOfflineSale       = "offline_sale"
	reasonOfflineAdjustment = "offline_adjustment"
	reasonOfflineLoyalty    = "offline_loyalty"
)

// mutations reads the authoritative state a payload depends on and applies
// its effect once no conflict is found.
type mutations struct {
	catalog PriceCatalog
	stock   StockLedger
	loyalty LoyaltyLedger
	flags   FeatureFlags
	reports ReportGenerator
	logg    *logger.Logger
}

func (m *mutations) detect(ctx context.Context, item QueueItem) (Detection, error) {
	switch p := item.Payload.(type) {
	case SalePayload:
		prices := make(map[PriceKey]inventory.Price, len(p.Lines))
		for _, line := range p.Lines {
			key := PriceKey{ProductID: line.ProductID, Mode: line.Mode}
			if _, seen := prices[key]; seen {
				continue
			}
			price, err := m.catalog.CurrentPrice(ctx, item.TenantID, line.ProductID, line.Mode)
			if err != nil {
				if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
					continue
				}
				return Detection{}, fmt.Errorf("load price for %s: %w", line.ProductID, err)
			}
			prices[key] = price
		}
		return DetectSaleConflict(p, prices), nil
	case LoyaltyPayload:
		balance, err := m.balance(ctx, item, p)
		if err != nil {
			return Detection{}, err
		}
		return DetectLoyaltyConflict(p, balance), nil
	case InventoryPayload, ReportPayload:
		return match, nil
	default:
		return Detection{}, fmt.Errorf("unsupported payload %T", item.Payload)
	}
}

func (m *mutations) apply(ctx context.Context, item QueueItem) error {
	switch p := item.Payload.(type) {
	case SalePayload:
		return m.stock.ApplyMovements(ctx, item.TenantID, item.BranchID, item.IdempotencyKey, reasonOfflineSale, p.Movements)
	case InventoryPayload:
		reason := strings.TrimSpace(p.Reason)
		if reason == "" {
			reason = reasonOfflineAdjustment
		}
		return m.stock.ApplyMovements(ctx, item.TenantID, item.BranchID, item.IdempotencyKey, reason, p.Movements)
	case LoyaltyPayload:
		return m.applyLoyalty(ctx, item, p)
	case ReportPayload:
		rows, err := m.reports.Generate(ctx, item.TenantID, item.BranchID, p.TemplateID, p.Filters)
		if err != nil {
			return err
		}
		if m.logg != nil {
			logCtx := m.logg.WithFields(ctx, map[string]any{
				"queue_id":    item.ID.String(),
				"template_id": p.TemplateID,
				"row_count":   len(rows),
			})
			m.logg.Info(logCtx, "offline report regenerated")
		}
		return nil
	default:
		return fmt.Errorf("unsupported payload %T", item.Payload)
	}
}

// applyLoyalty re-checks the loyalty gate, which may have been switched off
// since enqueue, and skips the write when the balance already reflects it.
func (m *mutations) applyLoyalty(ctx context.Context, item QueueItem, p LoyaltyPayload) error {
	if err := m.requireLoyalty(ctx, item); err != nil {
		return err
	}
	if p.ExpectedBalanceBefore != nil {
		current, err := m.loyalty.Balance(ctx, item.TenantID, p.CustomerID)
		if err != nil {
			return err
		}
		if current == *p.ExpectedBalanceBefore+p.Delta() {
			return nil
		}
	}
	_, err := m.loyalty.ApplyPoints(ctx, item.TenantID, p.CustomerID, p.Delta(), item.IdempotencyKey, reasonOfflineLoyalty)
	return err
}

func (m *mutations) requireLoyalty(ctx context.Context, item QueueItem) error {
	enabled, err := m.flags.IsEnabled(ctx, item.TenantID, featureflags.LoyaltyRules)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loyalty flag lookup failed")
	}
	if !enabled {
		return pkgerrors.New(pkgerrors.CodeFeatureOff, "loyalty rules are disabled for tenant")
	}
	return nil
}

func (m *mutations) balance(ctx context.Context, item QueueItem, p LoyaltyPayload) (*int64, error) {
	balance, err := m.loyalty.Balance(ctx, item.TenantID, p.CustomerID)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load balance for %s: %w", p.CustomerID, err)
	}
	return &balance, nil
}
