package offline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/pkg/enums"
)

var (
	// ErrDuplicateIdempotencyKey is returned when a tenant already queued or
	// committed the key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("record not found")
	// ErrAlertOpen is returned when an unacknowledged alert already exists for
	// the same tenant, branch, category and source.
	ErrAlertOpen = errors.New("open alert already exists")
)

// ItemFilter narrows a queue listing. Empty slices match everything.
type ItemFilter struct {
	States     []enums.QueueState
	EventTypes []enums.QueueEventType
}

func (f ItemFilter) matches(item QueueItem) bool {
	if len(f.States) > 0 && !containsState(f.States, item.State) {
		return false
	}
	if len(f.EventTypes) > 0 && !containsEventType(f.EventTypes, item.EventType) {
		return false
	}
	return true
}

// Repository persists queue items, transactions, conflicts and alerts, all
// keyed by tenant. ListItems returns items in insertion order.
type Repository interface {
	InsertItem(ctx context.Context, item QueueItem) error
	UpdateItem(ctx context.Context, item QueueItem) error
	GetItem(ctx context.Context, tenantID, queueID uuid.UUID) (QueueItem, error)
	ListItems(ctx context.Context, scope Scope, filter ItemFilter) ([]QueueItem, error)
	HasItemWithKey(ctx context.Context, tenantID uuid.UUID, key string) (bool, error)
	ScopesWithStates(ctx context.Context, states ...enums.QueueState) ([]Scope, error)

	AppendTransaction(ctx context.Context, rec TransactionRecord) error
	FindTransaction(ctx context.Context, tenantID uuid.UUID, key string) (*TransactionRecord, error)
	DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertConflict(ctx context.Context, conflict Conflict) error
	UpdateConflict(ctx context.Context, conflict Conflict) error
	GetConflict(ctx context.Context, tenantID, conflictID uuid.UUID) (Conflict, error)
	ListConflicts(ctx context.Context, scope Scope, status enums.ConflictStatus) ([]Conflict, error)

	InsertAlert(ctx context.Context, alert Alert) error
	UpdateAlert(ctx context.Context, alert Alert) error
	GetAlert(ctx context.Context, tenantID, alertID uuid.UUID) (Alert, error)
	FindOpenAlert(ctx context.Context, scope Scope, category enums.AlertCategory, source enums.AlertSource) (*Alert, error)
	ListAlerts(ctx context.Context, scope Scope, openOnly bool) ([]Alert, error)
}

func containsState(states []enums.QueueState, s enums.QueueState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsEventType(types []enums.QueueEventType, t enums.QueueEventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
