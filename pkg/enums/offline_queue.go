package enums

import "fmt"

// QueueState is the lifecycle state of an offline queue item.
type QueueState string

const (
	QueueStatePending   QueueState = "PENDING"
	QueueStateSyncing   QueueState = "SYNCING"
	QueueStateConfirmed QueueState = "CONFIRMED"
	QueueStateConflict  QueueState = "CONFLICT"
	QueueStateFailed    QueueState = "FAILED"
)

var validQueueStates = []QueueState{
	QueueStatePending,
	QueueStateSyncing,
	QueueStateConfirmed,
	QueueStateConflict,
	QueueStateFailed,
}

// IsValid reports whether the value is a known queue state.
func (s QueueState) IsValid() bool {
	for _, candidate := range validQueueStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseQueueState converts raw input into QueueState.
func ParseQueueState(value string) (QueueState, error) {
	for _, candidate := range validQueueStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid queue state %q", value)
}

// QueueEventType identifies the kind of mutation a device queued.
type QueueEventType string

const (
	QueueEventSale      QueueEventType = "SALE"
	QueueEventInventory QueueEventType = "INVENTORY"
	QueueEventLoyalty   QueueEventType = "LOYALTY"
	QueueEventReport    QueueEventType = "REPORT"
)

var validQueueEventTypes = []QueueEventType{
	QueueEventSale,
	QueueEventInventory,
	QueueEventLoyalty,
	QueueEventReport,
}

// IsValid reports whether the value is a known queue event type.
func (t QueueEventType) IsValid() bool {
	for _, candidate := range validQueueEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseQueueEventType converts raw input into QueueEventType.
func ParseQueueEventType(value string) (QueueEventType, error) {
	for _, candidate := range validQueueEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid queue event type %q", value)
}

// QueueErrorCode records why the last attempt on a queue item failed.
type QueueErrorCode string

const (
	QueueErrorReplayWindowExceeded QueueErrorCode = "OFFLINE_REPLAY_WINDOW_EXCEEDED"
	QueueErrorRetryExhausted       QueueErrorCode = "OFFLINE_RETRY_EXHAUSTED"
	QueueErrorDuplicateKey         QueueErrorCode = "DUPLICATE_IDEMPOTENCY_KEY"
	QueueErrorSyncFailed           QueueErrorCode = "SYNC_FAILED"
	QueueErrorFeatureDisabled      QueueErrorCode = "FEATURE_DISABLED"
	QueueErrorNotFound             QueueErrorCode = "NOT_FOUND"
	QueueErrorValidation           QueueErrorCode = "VALIDATION_FAILED"
)

// IsTerminal reports whether an item failed with this code must never be retried automatically.
func (c QueueErrorCode) IsTerminal() bool {
	return c == QueueErrorReplayWindowExceeded || c == QueueErrorRetryExhausted
}

// LoyaltyOperation is the direction of a queued points mutation.
type LoyaltyOperation string

const (
	LoyaltyAccrue LoyaltyOperation = "ACCRUE"
	LoyaltyRedeem LoyaltyOperation = "REDEEM"
)

// IsValid reports whether the value is a known loyalty operation.
func (o LoyaltyOperation) IsValid() bool {
	return o == LoyaltyAccrue || o == LoyaltyRedeem
}

// Sign returns +1 for accruals and -1 for redemptions.
func (o LoyaltyOperation) Sign() int64 {
	if o == LoyaltyRedeem {
		return -1
	}
	return 1
}
