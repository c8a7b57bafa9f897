package enums

// AlertCategory groups operational alerts raised by the sync engine.
type AlertCategory string

const (
	AlertCategoryQueue    AlertCategory = "QUEUE"
	AlertCategoryConflict AlertCategory = "CONFLICT"
	AlertCategoryRisk     AlertCategory = "RISK"
)

// AlertSeverity drives how devices degrade when an alert is open.
type AlertSeverity string

const (
	AlertSeverityWarn     AlertSeverity = "WARN"
	AlertSeverityReadOnly AlertSeverity = "READ_ONLY"
	AlertSeverityBlock    AlertSeverity = "BLOCK"
)

// AlertSource names the condition that raised an alert; at most one
// unacknowledged alert exists per tenant, branch, category and source.
type AlertSource string

const (
	AlertSourceReplayWindow       AlertSource = "OFFLINE_REPLAY_WINDOW_EXCEEDED"
	AlertSourceRetryExhausted     AlertSource = "OFFLINE_RETRY_EXHAUSTED"
	AlertSourceOfflineSLA         AlertSource = "OFFLINE_SLA"
	AlertSourceConflictEscalation AlertSource = "CONFLICT_ESCALATED"
)
