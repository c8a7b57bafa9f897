package outbox

import (
	"encoding/json"
	"time"
)

// Actor kinds carried on emitted events.
const (
	ActorDevice   = "device"
	ActorOperator = "operator"
	ActorSystem   = "system"
)

// ActorRef identifies what caused the event: the till that queued an item,
// the operator who settled a conflict, or the sync engine itself.
type ActorRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// Consumers must tolerate unknown fields; Version only changes when Data
// changes shape incompatibly.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
