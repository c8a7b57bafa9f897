package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OfflineItemQueuedEvent signals a device operation entered the branch queue.
type OfflineItemQueuedEvent struct {
	QueueID        uuid.UUID `json:"queueId"`
	TenantID       uuid.UUID `json:"tenantId"`
	BranchID       uuid.UUID `json:"branchId"`
	EventType      string    `json:"eventType"`
	IdempotencyKey string    `json:"idempotencyKey"`
	DeviceID       string    `json:"deviceId,omitempty"`
}

// OfflineItemSyncedEvent is emitted once a queued operation is confirmed.
type OfflineItemSyncedEvent struct {
	QueueID        uuid.UUID `json:"queueId"`
	TenantID       uuid.UUID `json:"tenantId"`
	BranchID       uuid.UUID `json:"branchId"`
	EventType      string    `json:"eventType"`
	IdempotencyKey string    `json:"idempotencyKey"`
	RetryCount     int       `json:"retryCount"`
	ConfirmedAt    time.Time `json:"confirmedAt"`
}

// OfflineItemFailedEvent is emitted when an item fails permanently.
type OfflineItemFailedEvent struct {
	QueueID      uuid.UUID `json:"queueId"`
	TenantID     uuid.UUID `json:"tenantId"`
	BranchID     uuid.UUID `json:"branchId"`
	EventType    string    `json:"eventType"`
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	RetryCount   int       `json:"retryCount"`
}

// OfflineConflictEvent describes a conflict at detection, resolution or escalation.
type OfflineConflictEvent struct {
	ConflictID       uuid.UUID      `json:"conflictId"`
	QueueID          uuid.UUID      `json:"queueId"`
	TenantID         uuid.UUID      `json:"tenantId"`
	BranchID         uuid.UUID      `json:"branchId"`
	ConflictType     string         `json:"conflictType"`
	ResolutionStatus string         `json:"resolutionStatus"`
	LocalValue       map[string]any `json:"localValue,omitempty"`
	ServerValue      map[string]any `json:"serverValue,omitempty"`
	ResolvedBy       string         `json:"resolvedBy,omitempty"`
	ResolutionNote   string         `json:"resolutionNote,omitempty"`
}

// OfflineAlertRaisedEvent feeds the notification pipeline.
type OfflineAlertRaisedEvent struct {
	AlertID  uuid.UUID  `json:"alertId"`
	TenantID uuid.UUID  `json:"tenantId"`
	BranchID uuid.UUID  `json:"branchId"`
	Category string     `json:"category"`
	Severity string     `json:"severity"`
	Source   string     `json:"source"`
	Message  string     `json:"message"`
	QueueID  *uuid.UUID `json:"queueId,omitempty"`
}

// OfflineDirectCommitEvent records a synchronous commit registered with the
// idempotency registry.
type OfflineDirectCommitEvent struct {
	TransactionID  uuid.UUID `json:"transactionId"`
	TenantID       uuid.UUID `json:"tenantId"`
	BranchID       uuid.UUID `json:"branchId"`
	EventType      string    `json:"eventType"`
	IdempotencyKey string    `json:"idempotencyKey"`
	CommittedAt    time.Time `json:"committedAt"`
}

// Routed payloads expose Pub/Sub attributes subscribers filter on.
type Routed interface {
	RoutingAttributes() map[string]string
}

func scopeAttributes(tenantID, branchID uuid.UUID) map[string]string {
	return map[string]string{
		"tenant_id": tenantID.String(),
		"branch_id": branchID.String(),
	}
}

func (e *OfflineItemQueuedEvent) RoutingAttributes() map[string]string {
	return scopeAttributes(e.TenantID, e.BranchID)
}

func (e *OfflineItemSyncedEvent) RoutingAttributes() map[string]string {
	return scopeAttributes(e.TenantID, e.BranchID)
}

func (e *OfflineItemFailedEvent) RoutingAttributes() map[string]string {
	return scopeAttributes(e.TenantID, e.BranchID)
}

func (e *OfflineConflictEvent) RoutingAttributes() map[string]string {
	return scopeAttributes(e.TenantID, e.BranchID)
}

func (e *OfflineDirectCommitEvent) RoutingAttributes() map[string]string {
	return scopeAttributes(e.TenantID, e.BranchID)
}

// RoutingAttributes adds severity and category so paging subscriptions can
// filter on BLOCK and READ_ONLY alerts.
func (e *OfflineAlertRaisedEvent) RoutingAttributes() map[string]string {
	attrs := scopeAttributes(e.TenantID, e.BranchID)
	attrs["severity"] = e.Severity
	attrs["category"] = e.Category
	return attrs
}
