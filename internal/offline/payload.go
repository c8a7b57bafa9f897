package offline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/possync-backend/internal/inventory"
	"github.com/angelmondragon/possync-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/possync-backend/pkg/errors"
)

const defaultSaleMode = "retail"

// Payload is the event-specific body of a queue item. The concrete types are
// SalePayload, InventoryPayload, LoyaltyPayload and ReportPayload.
type Payload interface {
	EventType() enums.QueueEventType
	Validate() error
}

// SaleLine is one priced line of an offline sale.
type SaleLine struct {
	ProductID uuid.UUID       `json:"productId"`
	Mode      string          `json:"mode"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// SalePayload carries the prices a device charged and when it last refreshed
// them. Movements are derived once at enqueue so applying is pure replay.
type SalePayload struct {
	Lines     []SaleLine           `json:"lines"`
	PricedAt  time.Time            `json:"pricedAt"`
	Movements []inventory.Movement `json:"movements,omitempty"`
}

func (SalePayload) EventType() enums.QueueEventType { return enums.QueueEventSale }

func (p SalePayload) Validate() error {
	if len(p.Lines) == 0 {
		return validationErr("sale requires at least one line")
	}
	if p.PricedAt.IsZero() {
		return validationErr("sale pricedAt is required")
	}
	for i, line := range p.Lines {
		if line.ProductID == uuid.Nil {
			return validationErr(fmt.Sprintf("line %d: productId is required", i))
		}
		if line.Quantity <= 0 {
			return validationErr(fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if line.UnitPrice.IsNegative() {
			return validationErr(fmt.Sprintf("line %d: unitPrice must not be negative", i))
		}
	}
	return nil
}

// withMovements fills in the stock movements a sale implies, one per product
// in first-seen order.
func (p SalePayload) withMovements() SalePayload {
	lines := make([]SaleLine, len(p.Lines))
	copy(lines, p.Lines)
	for i := range lines {
		if strings.TrimSpace(lines[i].Mode) == "" {
			lines[i].Mode = defaultSaleMode
		}
	}
	p.Lines = lines
	if len(p.Movements) > 0 {
		return p
	}
	index := map[uuid.UUID]int{}
	var movements []inventory.Movement
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			movements[i].Delta -= line.Quantity
			continue
		}
		index[line.ProductID] = len(movements)
		movements = append(movements, inventory.Movement{ProductID: line.ProductID, Delta: -line.Quantity})
	}
	p.Movements = movements
	return p
}

// InventoryPayload is a recorded stock adjustment.
type InventoryPayload struct {
	Reason    string               `json:"reason"`
	Movements []inventory.Movement `json:"movements"`
}

func (InventoryPayload) EventType() enums.QueueEventType { return enums.QueueEventInventory }

func (p InventoryPayload) Validate() error {
	if len(p.Movements) == 0 {
		return validationErr("inventory adjustment requires movements")
	}
	for i, mv := range p.Movements {
		if mv.ProductID == uuid.Nil {
			return validationErr(fmt.Sprintf("movement %d: productId is required", i))
		}
		if mv.Delta == 0 {
			return validationErr(fmt.Sprintf("movement %d: delta must not be zero", i))
		}
	}
	return nil
}

// LoyaltyPayload is a points accrual or redemption. ExpectedBalanceBefore is
// the balance the device believed when it queued the operation; nil for
// payloads recorded before devices sent it.
type LoyaltyPayload struct {
	CustomerID            uuid.UUID              `json:"customerId"`
	Operation             enums.LoyaltyOperation `json:"operation"`
	Points                int64                  `json:"points"`
	ExpectedBalanceBefore *int64                 `json:"expectedBalanceBefore,omitempty"`
}

func (LoyaltyPayload) EventType() enums.QueueEventType { return enums.QueueEventLoyalty }

func (p LoyaltyPayload) Validate() error {
	if p.CustomerID == uuid.Nil {
		return validationErr("loyalty customerId is required")
	}
	if !p.Operation.IsValid() {
		return validationErr(fmt.Sprintf("invalid loyalty operation %q", p.Operation))
	}
	if p.Points <= 0 {
		return validationErr("loyalty points must be positive")
	}
	return nil
}

// Delta is the signed change the operation applies.
func (p LoyaltyPayload) Delta() int64 {
	return p.Operation.Sign() * p.Points
}

// ReportPayload requests a report snapshot.
type ReportPayload struct {
	TemplateID string            `json:"templateId"`
	Filters    map[string]string `json:"filters,omitempty"`
}

func (ReportPayload) EventType() enums.QueueEventType { return enums.QueueEventReport }

func (p ReportPayload) Validate() error {
	if strings.TrimSpace(p.TemplateID) == "" {
		return validationErr("report templateId is required")
	}
	return nil
}

// DecodePayload parses raw JSON into the payload type of eventType.
func DecodePayload(eventType enums.QueueEventType, raw json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch eventType {
	case enums.QueueEventSale:
		var p SalePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case enums.QueueEventInventory:
		var p InventoryPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case enums.QueueEventLoyalty:
		var p LoyaltyPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case enums.QueueEventReport:
		var p ReportPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, validationErr(fmt.Sprintf("unsupported event type %q", eventType))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", eventType))
	}
	return payload, nil
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, validationErr("payload is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return raw, nil
}

func validationErr(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
