package domain

import "time"

type EventType string

const (
	EventBlockTransition    EventType = "block_transition"
	EventTrade              EventType = "trade"
	EventFill               EventType = "fill"
	EventSnapshot           EventType = "snapshot"
	EventParamsAck          EventType = "params_ack"
	EventParamsRejected     EventType = "params_rejected"
	EventStalled            EventType = "stalled"
	EventInvariantViolation EventType = "invariant_violation"
	EventCycleComplete      EventType = "cycle_complete"
	EventBatchDropped       EventType = "batch_dropped"
	EventSessionStopped     EventType = "session_stopped"
)

// Event is an outbound status notice for dashboards and other consumers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Strategy  string    `json:"strategy"`
	Cycle     int       `json:"cycle"`
	Block     Block     `json:"block"`
	Token     uint32    `json:"token,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      Side      `json:"side,omitempty"`
	Price     float64   `json:"price,omitempty"`
	MTM       float64   `json:"mtm"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`

	Instruments []InstrumentRecord `json:"instruments,omitempty"`
}
