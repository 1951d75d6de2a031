package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - rep_id is required; session/batch/leg ids depend on the event type.
// - audit is best-effort; do not block call handling on audit failures.
//
// Storage: table audit_events with an UPDATE/DELETE-rejecting trigger.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	RepID     string `json:"rep_id" db:"rep_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	BatchID   string `json:"batch_id,omitempty" db:"batch_id"`
	LegID     string `json:"leg_id,omitempty" db:"leg_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeBatchCreated       EventType = "batch_created"
	EventTypeBatchResolved      EventType = "batch_resolved"
	EventTypeRaceLoss           EventType = "race_loss"
	EventTypeInvariantViolation EventType = "invariant_violation"
	EventTypeHold               EventType = "call_hold"
	EventTypeResume             EventType = "call_resume"
	EventTypeInboundRouted      EventType = "inbound_routed"
)
