package offline

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/pkg/enums"
)

// Outcome is the verdict of comparing a queued operation with server state.
type Outcome string

const (
	OutcomeMatch    Outcome = "MATCH"
	OutcomeConflict Outcome = "CONFLICT"
	OutcomeUnknown  Outcome = "UNKNOWN"
)

// Detection carries the verdict and, when not a match, the snapshots an
// operator needs to adjudicate.
type Detection struct {
	Outcome     Outcome
	Type        enums.ConflictType
	LocalValue  map[string]any
	ServerValue map[string]any
}

// Conflicting reports whether the operation must be parked.
func (d Detection) Conflicting() bool {
	return d.Outcome != OutcomeMatch
}

var match = Detection{Outcome: OutcomeMatch}

// PriceKey identifies a product price in a selling mode.
type PriceKey struct {
	ProductID uuid.UUID
	Mode      string
}

// DetectSaleConflict compares each line's charged price with the current
// server price. A line conflicts only when the server price changed after the
// device priced the sale and the prices differ at cent precision. The first
// conflicting line wins. A line without a server price is UNKNOWN.
func DetectSaleConflict(p SalePayload, prices map[PriceKey]inventory.Price) Detection {
	for _, line := range p.Lines {
		local := map[string]any{
			"productId": line.ProductID.String(),
			"mode":      line.Mode,
			"quantity":  line.Quantity,
			"unitPrice": line.UnitPrice.StringFixed(2),
			"pricedAt":  p.PricedAt.UTC().Format(time.RFC3339Nano),
		}
		price, ok := prices[PriceKey{ProductID: line.ProductID, Mode: line.Mode}]
		if !ok {
			return Detection{
				Outcome:     OutcomeUnknown,
				Type:        enums.ConflictUnknown,
				LocalValue:  local,
				ServerValue: map[string]any{"productId": line.ProductID.String(), "unitPrice": nil},
			}
		}
		if !price.UpdatedAt.After(p.PricedAt) {
			continue
		}
		if line.UnitPrice.Round(2).Equal(price.UnitPrice.Round(2)) {
			continue
		}
		return Detection{
			Outcome:    OutcomeConflict,
			Type:       enums.ConflictPrice,
			LocalValue: local,
			ServerValue: map[string]any{
				"productId": price.ProductID.String(),
				"mode":      price.Mode,
				"unitPrice": price.UnitPrice.StringFixed(2),
				"updatedAt": price.UpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
	}
	return match
}

// DetectLoyaltyConflict checks a points operation against the current balance;
// a nil balance means the customer no longer exists. Either the expected
// balance before or after the operation is accepted so a replay of an
// already-applied operation is not flagged.
func DetectLoyaltyConflict(p LoyaltyPayload, balance *int64) Detection {
	local := map[string]any{
		"customerId": p.CustomerID.String(),
		"operation":  string(p.Operation),
		"points":     p.Points,
	}
	if balance == nil {
		return Detection{
			Outcome:     OutcomeUnknown,
			Type:        enums.ConflictUnknown,
			LocalValue:  local,
			ServerValue: map[string]any{"customerId": p.CustomerID.String(), "currentPoints": nil},
		}
	}
	if p.ExpectedBalanceBefore == nil {
		return match
	}

	expectedBefore := *p.ExpectedBalanceBefore
	expectedAfter := expectedBefore + p.Delta()
	local["expectedBalanceBefore"] = expectedBefore
	local["expectedBalanceAfter"] = expectedAfter
	server := map[string]any{"customerId": p.CustomerID.String(), "currentPoints": *balance}

	if p.Operation == enums.LoyaltyRedeem && expectedBefore < p.Points {
		return Detection{Outcome: OutcomeConflict, Type: enums.ConflictQuantity, LocalValue: local, ServerValue: server}
	}
	if *balance != expectedBefore && *balance != expectedAfter {
		return Detection{Outcome: OutcomeConflict, Type: enums.ConflictQuantity, LocalValue: local, ServerValue: server}
	}
	return match
}
