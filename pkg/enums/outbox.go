package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateQueueItem   OutboxAggregateType = "offline_queue_item"
	AggregateConflict    OutboxAggregateType = "offline_conflict"
	AggregateAlert       OutboxAggregateType = "offline_alert"
	AggregateTransaction OutboxAggregateType = "offline_transaction"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateQueueItem,
	AggregateConflict,
	AggregateAlert,
	AggregateTransaction,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOfflineItemQueued       OutboxEventType = "offline_item_queued"
	EventOfflineItemSynced       OutboxEventType = "offline_item_synced"
	EventOfflineItemFailed       OutboxEventType = "offline_item_failed"
	EventOfflineConflictDetected OutboxEventType = "offline_conflict_detected"
	EventOfflineConflictResolved OutboxEventType = "offline_conflict_resolved"
	EventOfflineConflictEscalate OutboxEventType = "offline_conflict_escalated"
	EventOfflineAlertRaised      OutboxEventType = "offline_alert_raised"
	EventOfflineDirectCommit     OutboxEventType = "offline_direct_commit"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOfflineItemQueued,
	EventOfflineItemSynced,
	EventOfflineItemFailed,
	EventOfflineConflictDetected,
	EventOfflineConflictResolved,
	EventOfflineConflictEscalate,
	EventOfflineAlertRaised,
	EventOfflineDirectCommit,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
