package offline

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/possync-backend/pkg/enums"
)

// Scope identifies the tenant and branch a queue belongs to. Passes for
// different scopes never share mutable state.
type Scope struct {
	TenantID uuid.UUID
	BranchID uuid.UUID
}

func (s Scope) String() string {
	return s.TenantID.String() + "/" + s.BranchID.String()
}

// QueueItem is one in-flight device operation. Values are never patched in
// place; every transition returns a modified copy.
type QueueItem struct {
	ID               uuid.UUID            `json:"queueId"`
	TenantID         uuid.UUID            `json:"tenantId"`
	BranchID         uuid.UUID            `json:"branchId"`
	DeviceID         string               `json:"deviceId,omitempty"`
	IdempotencyKey   string               `json:"idempotencyKey"`
	EventType        enums.QueueEventType `json:"eventType"`
	Payload          Payload              `json:"payload"`
	State            enums.QueueState     `json:"state"`
	RetryCount       int                  `json:"retryCount"`
	ReplayDeadlineAt time.Time            `json:"replayDeadlineAt"`
	NextRetryAt      *time.Time           `json:"nextRetryAt,omitempty"`
	ErrorCode        enums.QueueErrorCode `json:"errorCode,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Scope returns the tenant and branch of the item.
func (q QueueItem) Scope() Scope {
	return Scope{TenantID: q.TenantID, BranchID: q.BranchID}
}

// Terminal reports whether the item failed permanently and awaits an operator.
func (q QueueItem) Terminal() bool {
	return q.State == enums.QueueStateFailed && q.ErrorCode.IsTerminal()
}

func (q QueueItem) withState(state enums.QueueState, now time.Time) QueueItem {
	q.State = state
	q.UpdatedAt = now
	return q
}

func (q QueueItem) withFailure(code enums.QueueErrorCode, msg string, retryCount int, nextRetryAt *time.Time, now time.Time) QueueItem {
	q.State = enums.QueueStateFailed
	q.ErrorCode = code
	q.ErrorMessage = msg
	q.RetryCount = retryCount
	q.NextRetryAt = nextRetryAt
	q.UpdatedAt = now
	return q
}

func (q QueueItem) confirmed(now time.Time) QueueItem {
	q.State = enums.QueueStateConfirmed
	q.NextRetryAt = nil
	q.ErrorCode = ""
	q.ErrorMessage = ""
	q.UpdatedAt = now
	return q
}

func (q QueueItem) parked(now time.Time) QueueItem {
	q.State = enums.QueueStateConflict
	q.NextRetryAt = nil
	q.ErrorCode = ""
	q.ErrorMessage = ""
	q.UpdatedAt = now
	return q
}

// TransactionRecord proves an idempotency key produced a committed effect.
// SourceQueueID is nil for synchronous commits that never went through the queue.
type TransactionRecord struct {
	ID             uuid.UUID            `json:"transactionId"`
	TenantID       uuid.UUID            `json:"tenantId"`
	BranchID       uuid.UUID            `json:"branchId"`
	IdempotencyKey string               `json:"idempotencyKey"`
	EventType      enums.QueueEventType `json:"eventType"`
	SourceQueueID  *uuid.UUID           `json:"sourceQueueId,omitempty"`
	CommittedAt    time.Time            `json:"committedAt"`
}

// Conflict is the durable artifact of a queued mutation that could not be
// applied safely.
type Conflict struct {
	ID               uuid.UUID            `json:"conflictId"`
	TenantID         uuid.UUID            `json:"tenantId"`
	BranchID         uuid.UUID            `json:"branchId"`
	QueueID          uuid.UUID            `json:"queueId"`
	Type             enums.ConflictType   `json:"conflictType"`
	LocalValue       map[string]any       `json:"localValue"`
	ServerValue      map[string]any       `json:"serverValue"`
	ResolutionStatus enums.ConflictStatus `json:"resolutionStatus"`
	ResolutionNote   string               `json:"resolutionNote,omitempty"`
	ResolvedBy       string               `json:"resolvedBy,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	ResolvedAt       *time.Time           `json:"resolvedAt,omitempty"`
}

// Alert is an operational signal for a branch.
type Alert struct {
	ID             uuid.UUID           `json:"alertId"`
	TenantID       uuid.UUID           `json:"tenantId"`
	BranchID       uuid.UUID           `json:"branchId"`
	Category       enums.AlertCategory `json:"category"`
	Severity       enums.AlertSeverity `json:"severity"`
	Source         enums.AlertSource   `json:"source"`
	Message        string              `json:"message"`
	QueueID        *uuid.UUID          `json:"queueId,omitempty"`
	AcknowledgedAt *time.Time          `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string              `json:"acknowledgedBy,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Open reports whether the alert still suppresses duplicates.
func (a Alert) Open() bool {
	return a.AcknowledgedAt == nil
}

// SyncResult aggregates one sync pass. Processed includes deferred items.
type SyncResult struct {
	Processed           int     `json:"processed"`
	Confirmed           int     `json:"confirmed"`
	Conflicts           int     `json:"conflicts"`
	Failed              int     `json:"failed"`
	Deferred            int     `json:"deferred"`
	Expired             int     `json:"expired"`
	Exhausted           int     `json:"exhausted"`
	RetrySuccessRatePct float64 `json:"retrySuccessRatePct"`
	EscalationRatePct   float64 `json:"escalationRatePct"`
}

func (r *SyncResult) finalize() {
	actionable := r.Processed - r.Deferred
	if actionable <= 0 {
		r.RetrySuccessRatePct = 100
		r.EscalationRatePct = 0
		return
	}
	r.RetrySuccessRatePct = float64(r.Confirmed) / float64(actionable) * 100
	r.EscalationRatePct = float64(r.Conflicts+r.Expired+r.Exhausted) / float64(actionable) * 100
}

// ReconcileResult aggregates one on-demand reconciliation.
type ReconcileResult struct {
	Processed  int `json:"processed"`
	Confirmed  int `json:"confirmed"`
	Conflicts  int `json:"conflicts"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}
